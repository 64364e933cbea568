package client

import (
	"context"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

// DirectoryResolver implements service.EligibilityResolver from the local
// department directory: administrators may act on any order, department heads
// on orders whose live chain has a step for their department. Whether that
// step is pending or current is left to the engine.
type DirectoryResolver struct {
	reader repository.Reader
}

// NewDirectoryResolver creates a resolver reading from r.
func NewDirectoryResolver(r repository.Reader) *DirectoryResolver {
	return &DirectoryResolver{reader: r}
}

// CanApprove reports whether userID takes part in the approval chain of
// orderID. Unknown users are simply not eligible.
func (d *DirectoryResolver) CanApprove(ctx context.Context, userID, orderID string) (bool, error) {
	user, err := d.reader.GetUser(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if user.IsAdmin {
		return true, nil
	}
	if !user.IsDepartmentHead || user.DepartmentID == nil {
		return false, nil
	}

	chain, err := d.reader.ListApprovals(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, a := range chain {
		if a.DepartmentID == *user.DepartmentID {
			return true, nil
		}
	}
	return false, nil
}
