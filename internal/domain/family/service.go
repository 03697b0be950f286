package family

import (
	"context"
	"errors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ActiveFamilyID returns the family every banking operation of userID is scoped to.
func (s *Service) ActiveFamilyID(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user ID is required")
	}
	f, err := s.repo.GetActiveFamily(ctx, userID)
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

func (s *Service) Create(ctx context.Context, name, ownerUserID string) (*Family, error) {
	if name == "" {
		return nil, errors.New("family name is required")
	}
	if ownerUserID == "" {
		return nil, errors.New("user ID is required")
	}
	return s.repo.Create(ctx, name, ownerUserID)
}
