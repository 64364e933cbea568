package repository

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the YAML department/user directory used to seed storage.
//
//	departments:
//	  - id: site
//	    name: Site Operations
//	    requires_approval: true
//	    approval_order: 1
//	users:
//	  - id: u-100
//	    name: Ana Ruiz
//	    department: site
//	    head: true
type Catalog struct {
	Departments []CatalogDepartment `yaml:"departments"`
	Users       []CatalogUser       `yaml:"users"`
}

type CatalogDepartment struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	RequiresApproval bool   `yaml:"requires_approval"`
	ApprovalOrder    int    `yaml:"approval_order"`
}

type CatalogUser struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Department string `yaml:"department"`
	Head       bool   `yaml:"head"`
	Admin      bool   `yaml:"admin"`
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces positive, unique approval ranks and resolvable user
// departments.
func (c *Catalog) Validate() error {
	ids := make(map[string]bool, len(c.Departments))
	ranks := make(map[int]string, len(c.Departments))
	for _, d := range c.Departments {
		if d.ID == "" {
			return fmt.Errorf("department without id")
		}
		if ids[d.ID] {
			return fmt.Errorf("duplicate department id %q", d.ID)
		}
		ids[d.ID] = true
		if d.ApprovalOrder <= 0 {
			return fmt.Errorf("department %q: approval_order must be positive", d.ID)
		}
		if other, ok := ranks[d.ApprovalOrder]; ok {
			return fmt.Errorf("departments %q and %q share approval_order %d", other, d.ID, d.ApprovalOrder)
		}
		ranks[d.ApprovalOrder] = d.ID
	}
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("user without id")
		}
		if u.Department != "" && !ids[u.Department] {
			return fmt.Errorf("user %q: unknown department %q", u.ID, u.Department)
		}
	}
	return nil
}

// Seed upserts every department, then every user.
func (c *Catalog) Seed(ctx context.Context, w DirectoryWriter) error {
	for _, d := range c.Departments {
		err := w.UpsertDepartment(ctx, &Department{
			ID:               d.ID,
			Name:             d.Name,
			RequiresApproval: d.RequiresApproval,
			ApprovalOrder:    d.ApprovalOrder,
		})
		if err != nil {
			return fmt.Errorf("department %q: %w", d.ID, err)
		}
	}
	for _, u := range c.Users {
		user := &User{
			ID:               u.ID,
			Name:             u.Name,
			IsDepartmentHead: u.Head,
			IsAdmin:          u.Admin,
		}
		if u.Department != "" {
			dep := u.Department
			user.DepartmentID = &dep
		}
		if err := w.UpsertUser(ctx, user); err != nil {
			return fmt.Errorf("user %q: %w", u.ID, err)
		}
	}
	return nil
}
