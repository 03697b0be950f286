package banking

import (
	"context"
	"fmt"

	"famfin/internal/domain/account"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListConnections returns the family's connections with their linked accounts.
func (s *Service) ListConnections(ctx context.Context, familyID string) ([]*ConnectionSummary, error) {
	if familyID == "" {
		return nil, account.ErrInvalidFamilyID
	}

	conns, err := s.repo.ListConnections(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	accounts, err := s.repo.ListConnectedAccounts(ctx, familyID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}

	byConn := make(map[string][]*ConnectedAccount, len(conns))
	for _, a := range accounts {
		byConn[a.ConnectionID] = append(byConn[a.ConnectionID], a)
	}

	out := make([]*ConnectionSummary, 0, len(conns))
	for _, c := range conns {
		linked := byConn[c.ID]
		if linked == nil {
			linked = []*ConnectedAccount{}
		}
		out = append(out, &ConnectionSummary{Connection: c, Accounts: linked})
	}
	return out, nil
}
