// Package banking holds the aggregator link records: one Connection per consent
// and one ConnectedAccount per aggregator-side account.
package banking

import (
	"errors"
	"time"

	"famfin/internal/domain/account"
)

type Provider string

const (
	ProviderGoCardless Provider = "GOCARDLESS"
	ProviderPlaid      Provider = "PLAID"
)

var (
	ErrConnectionNotFound = errors.New("bank connection not found")
	ErrInvalidProvider    = errors.New("invalid provider")
	ErrAccountLinked      = errors.New("provider account already linked to this connection")
)

func (p Provider) Valid() bool {
	return p == ProviderGoCardless || p == ProviderPlaid
}

// Connection is one aggregator link owned by a family. AccessToken holds the
// decrypted credential; repositories encrypt it at rest.
type Connection struct {
	ID                 string    `json:"id"`
	FamilyID           string    `json:"familyId"`
	Provider           Provider  `json:"provider"`
	AccessToken        string    `json:"-"`
	ItemID             string    `json:"itemId"`
	InstitutionID      string    `json:"institutionId"`
	InstitutionName    string    `json:"institutionName"`
	InstitutionLogo    *string   `json:"institutionLogo,omitempty"`
	InstitutionCountry string    `json:"institutionCountry"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type CreateConnectionParams struct {
	FamilyID           string
	Provider           Provider
	AccessToken        string
	ItemID             string
	InstitutionID      string
	InstitutionName    string
	InstitutionLogo    *string
	InstitutionCountry string
}

func (p CreateConnectionParams) Validate() error {
	if p.FamilyID == "" {
		return account.ErrInvalidFamilyID
	}
	if !p.Provider.Valid() {
		return ErrInvalidProvider
	}
	if p.ItemID == "" {
		return errors.New("item id is required")
	}
	return nil
}

// ConnectedAccount maps a provider account id to the internal financial account.
type ConnectedAccount struct {
	ID                 string  `json:"id"`
	ConnectionID       string  `json:"connectionId"`
	ProviderAccountID  string  `json:"providerAccountId"`
	AccountName        string  `json:"accountName"`
	AccountType        string  `json:"accountType"`
	AccountSubtype     *string `json:"accountSubtype,omitempty"`
	IBAN               *string `json:"iban,omitempty"`
	FinancialAccountID string  `json:"financialAccountId"`

	// Populated by listing queries that join the owning connection.
	FamilyID        string `json:"familyId,omitempty"`
	InstitutionName string `json:"institutionName,omitempty"`
}

// LinkAccountParams creates a FinancialAccount and its ConnectedAccount together.
type LinkAccountParams struct {
	ConnectionID      string
	ProviderAccountID string
	AccountName       string
	AccountType       string
	AccountSubtype    *string
	IBAN              *string
	Financial         account.CreateParams
}

func (p LinkAccountParams) Validate() error {
	if p.ConnectionID == "" {
		return ErrConnectionNotFound
	}
	if p.ProviderAccountID == "" {
		return errors.New("provider account id is required")
	}
	return p.Financial.Validate()
}

// LinkedAccount is the result of LinkAccount.
type LinkedAccount struct {
	Connected *ConnectedAccount
	Financial *account.Account
}

// ConnectionSummary is the read model behind the connections listing.
type ConnectionSummary struct {
	*Connection
	Accounts []*ConnectedAccount `json:"accounts"`
}
