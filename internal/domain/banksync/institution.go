package banksync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	gc "famfin/internal/infrastructure/gocardless"
)

// Agreement policy requested for every institution.
const (
	AgreementHistoricalDays = 90
	AgreementValidDays      = 90
)

var agreementScope = []string{"balances", "details", "transactions"}

// Bank describes the bank a family wants to link. InstitutionID, when set,
// is used as-is and skips name matching.
type Bank struct {
	Name          string  `json:"name"`
	Country       string  `json:"country"`
	Logo          *string `json:"logo,omitempty"`
	InstitutionID string  `json:"institutionId,omitempty"`
}

type MatchStrategy string

const (
	MatchConfigured MatchStrategy = "configured"
	MatchExact      MatchStrategy = "exact"
	MatchSubstring  MatchStrategy = "substring"
	MatchAlias      MatchStrategy = "alias"
)

type InstitutionMatch struct {
	Institution gc.Institution
	Strategy    MatchStrategy
}

// institutionAliases maps a lower-cased descriptor name to the institution
// name listed by the aggregator, per country.
var institutionAliases = map[string]map[string]string{
	"NO": {
		"dnb":           "DNB",
		"dnb bank":      "DNB",
		"sparebank1":    "SpareBank 1",
		"sparebank 1":   "SpareBank 1",
		"nordea":        "Nordea",
		"handelsbanken": "Handelsbanken",
		"sbanken":       "Sbanken",
		"danske bank":   "Danske Bank",
	},
	"SE": {
		"seb":           "SEB",
		"swedbank":      "Swedbank",
		"handelsbanken": "Handelsbanken",
		"nordea":        "Nordea",
	},
	"DK": {
		"danske":      "Danske Bank",
		"danske bank": "Danske Bank",
		"nordea":      "Nordea",
		"jyske":       "Jyske Bank",
	},
	"FI": {
		"op":     "OP Financial Group",
		"nordea": "Nordea",
	},
}

// InstitutionResolver turns a bank descriptor into an aggregator institution
// and creates the data-access agreement for it.
type InstitutionResolver struct {
	client gc.ClientInterface
	logger *zap.Logger
}

func NewInstitutionResolver(client gc.ClientInterface, logger *zap.Logger) *InstitutionResolver {
	return &InstitutionResolver{client: client, logger: logger.Named("institution")}
}

// FindInstitution matches by exact name, then substring, then the country
// alias table. Name comparisons are case-sensitive; alias keys are not.
func (r *InstitutionResolver) FindInstitution(ctx context.Context, token string, bank Bank) (*InstitutionMatch, error) {
	if bank.InstitutionID != "" {
		return &InstitutionMatch{
			Institution: gc.Institution{ID: bank.InstitutionID, Name: bank.Name},
			Strategy:    MatchConfigured,
		}, nil
	}

	country := strings.ToUpper(strings.TrimSpace(bank.Country))
	institutions, err := r.client.ListInstitutions(ctx, token, country)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions for %s: %w", country, err)
	}

	match := matchInstitution(institutions, bank.Name, country)
	if match == nil {
		r.logger.Info("no institution matched",
			zap.String("bank", bank.Name), zap.String("country", country), zap.Int("candidates", len(institutions)))
		return nil, fmt.Errorf("%w: %q in %s", ErrInstitutionNotFound, bank.Name, country)
	}
	return match, nil
}

func matchInstitution(institutions []gc.Institution, name, country string) *InstitutionMatch {
	for _, inst := range institutions {
		if inst.Name == name {
			return &InstitutionMatch{Institution: inst, Strategy: MatchExact}
		}
	}

	if name != "" {
		for _, inst := range institutions {
			if strings.Contains(inst.Name, name) {
				return &InstitutionMatch{Institution: inst, Strategy: MatchSubstring}
			}
		}
	}

	alias, ok := institutionAliases[country][strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	for _, inst := range institutions {
		if inst.Name == alias {
			return &InstitutionMatch{Institution: inst, Strategy: MatchAlias}
		}
	}
	for _, inst := range institutions {
		if strings.HasPrefix(inst.Name, alias) {
			return &InstitutionMatch{Institution: inst, Strategy: MatchAlias}
		}
	}
	return nil
}

// CreateAgreement requests the fixed 90-day balances, details and
// transactions agreement and returns its id.
func (r *InstitutionResolver) CreateAgreement(ctx context.Context, token, institutionID string) (string, error) {
	agr, err := r.client.CreateAgreement(ctx, token, gc.AgreementRequest{
		InstitutionID:      institutionID,
		MaxHistoricalDays:  AgreementHistoricalDays,
		AccessValidForDays: AgreementValidDays,
		AccessScope:        agreementScope,
	})
	if err != nil {
		return "", fmt.Errorf("%w for %s: %w", ErrAgreementRejected, institutionID, err)
	}
	if agr.ID == "" {
		return "", fmt.Errorf("%w for %s: empty agreement id", ErrAgreementRejected, institutionID)
	}
	return agr.ID, nil
}
