package banksync

import (
	"errors"
	"fmt"

	gc "famfin/internal/infrastructure/gocardless"
)

var (
	ErrTokenUnavailable     = errors.New("aggregator access token unavailable")
	ErrInstitutionNotFound  = errors.New("bank not found")
	ErrAgreementRejected    = errors.New("agreement rejected")
	ErrRequisitionNotLinked = errors.New("requisition not linked")
	ErrNoAccounts           = errors.New("no accounts found in requisition")
	ErrNoConnectedAccounts  = errors.New("no connected accounts found")
	ErrNoFamily             = errors.New("no family found for user")
)

var requisitionStatusText = map[string]string{
	gc.StatusCreated:           "created",
	gc.StatusGivingConsent:     "giving consent",
	gc.StatusUndergoingAuth:    "undergoing authentication",
	gc.StatusSelectingAccounts: "selecting accounts",
	gc.StatusGrantingAccess:    "granting access",
	gc.StatusLinked:            "linked",
	gc.StatusExpired:           "expired",
	gc.StatusRejected:          "rejected",
	gc.StatusSuspended:         "suspended",
}

// NotLinkedError reports a requisition that has not reached the linked status.
// It matches ErrRequisitionNotLinked with errors.Is.
type NotLinkedError struct {
	RequisitionID string
	Status        string
}

func (e *NotLinkedError) Error() string {
	text, ok := requisitionStatusText[e.Status]
	if !ok {
		text = "unknown"
	}
	return fmt.Sprintf("requisition %s not linked: status %s (%s)", e.RequisitionID, e.Status, text)
}

func (e *NotLinkedError) Unwrap() error {
	return ErrRequisitionNotLinked
}

// Terminal reports whether the consent can no longer complete.
func (e *NotLinkedError) Terminal() bool {
	switch e.Status {
	case gc.StatusExpired, gc.StatusRejected, gc.StatusSuspended:
		return true
	}
	return false
}
