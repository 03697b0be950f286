package family

import "context"

type Repository interface {
	// GetActiveFamily returns the user's earliest-joined family or ErrFamilyNotFound.
	GetActiveFamily(ctx context.Context, userID string) (*Family, error)
	Create(ctx context.Context, name, ownerUserID string) (*Family, error)
}
