package notification

import "context"

// Repository defines the interface for device token storage.
type Repository interface {
	// UpsertDeviceToken registers the token, reassigning it when another user held it.
	UpsertDeviceToken(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error)
	// GetActiveTokensByFamilyID returns the active tokens of every member of the family.
	GetActiveTokensByFamilyID(ctx context.Context, familyID string) ([]*DeviceToken, error)
	DeactivateToken(ctx context.Context, token string) error
}
