package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
departments:
  - id: site
    name: Site Operations
    requires_approval: true
    approval_order: 1
  - id: finance
    name: Finance
    requires_approval: true
    approval_order: 2
users:
  - id: u-1
    name: Ana
    department: site
    head: true
  - id: u-2
    name: Root
    admin: true
`

type recordingWriter struct {
	departments []*Department
	users       []*User
}

func (w *recordingWriter) UpsertDepartment(_ context.Context, d *Department) error {
	w.departments = append(w.departments, d)
	return nil
}

func (w *recordingWriter) UpsertUser(_ context.Context, u *User) error {
	w.users = append(w.users, u)
	return nil
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, c.Departments, 2)
	require.Len(t, c.Users, 2)

	w := &recordingWriter{}
	require.NoError(t, c.Seed(context.Background(), w))

	require.Len(t, w.departments, 2)
	assert.Equal(t, 2, w.departments[1].ApprovalOrder)

	require.Len(t, w.users, 2)
	require.NotNil(t, w.users[0].DepartmentID)
	assert.Equal(t, "site", *w.users[0].DepartmentID)
	assert.True(t, w.users[0].IsDepartmentHead)
	assert.Nil(t, w.users[1].DepartmentID)
	assert.True(t, w.users[1].IsAdmin)
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"duplicate rank": `
departments:
  - {id: a, name: A, requires_approval: true, approval_order: 1}
  - {id: b, name: B, requires_approval: true, approval_order: 1}
`,
		"non-positive rank": `
departments:
  - {id: a, name: A, requires_approval: true, approval_order: 0}
`,
		"duplicate id": `
departments:
  - {id: a, name: A, approval_order: 1}
  - {id: a, name: A2, approval_order: 2}
`,
		"unknown user department": `
departments:
  - {id: a, name: A, approval_order: 1}
users:
  - {id: u, department: z}
`,
		"malformed yaml": "departments: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}
