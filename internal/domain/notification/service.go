package notification

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Service contains the business logic for push notifications
type Service struct {
	repo      Repository
	messenger Messenger
	logger    *zap.Logger
}

// NewService creates a new notification service. messenger may be nil when
// push delivery is not configured; tokens are still registered.
func NewService(repo Repository, messenger Messenger, logger *zap.Logger) *Service {
	return &Service{repo: repo, messenger: messenger, logger: logger.Named("notification")}
}

// RegisterDevice registers a device token for the authenticated user.
func (s *Service) RegisterDevice(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.UpsertDeviceToken(ctx, params)
}

// SendToFamily pushes a notification to every active device of the family's members.
// A family without devices is not an error.
func (s *Service) SendToFamily(ctx context.Context, familyID, title, body string, data map[string]string) error {
	if familyID == "" {
		return errors.New("family ID is required")
	}
	if s.messenger == nil {
		return nil
	}

	tokens, err := s.repo.GetActiveTokensByFamilyID(ctx, familyID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		s.logger.Debug("no active device tokens", zap.String("family_id", familyID))
		return nil
	}

	tokenStrings := make([]string, len(tokens))
	for i, t := range tokens {
		tokenStrings[i] = t.Token
	}
	return s.messenger.SendMulticast(ctx, tokenStrings, title, body, data)
}
