package banksync

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"famfin/internal/domain/account"
	"famfin/internal/domain/transaction"
	gc "famfin/internal/infrastructure/gocardless"
)

const (
	defaultCurrency    = "EUR"
	defaultDescription = "GoCardless Transaction"
	fallbackIDPrefix   = "gocardless-"
)

// selectBalance picks interimAvailable, then closingBooked, then the first
// entry. It reports false when the list is empty.
func selectBalance(balances []gc.Balance) (gc.Balance, bool) {
	if len(balances) == 0 {
		return gc.Balance{}, false
	}
	for _, want := range []string{gc.BalanceInterimAvailable, gc.BalanceClosingBooked} {
		for _, b := range balances {
			if b.BalanceType == want {
				return b, true
			}
		}
	}
	return balances[0], true
}

// balanceAmount parses the preferred balance; an empty list is a zero balance.
func balanceAmount(balances []gc.Balance) (decimal.Decimal, string, error) {
	b, ok := selectBalance(balances)
	if !ok {
		return decimal.Zero, "", nil
	}
	amt, err := decimal.NewFromString(b.BalanceAmount.Amount)
	if err != nil {
		return decimal.Zero, "", err
	}
	return amt, b.BalanceAmount.Currency, nil
}

var cashAccountTypes = map[string]account.Type{
	"CACC": account.TypeChecking,
	"TRAN": account.TypeChecking,
	"CURR": account.TypeChecking,
	"SVGS": account.TypeSavings,
	"SAVA": account.TypeSavings,
	"LOAN": account.TypeLoan,
	"CARD": account.TypeCreditCard,
}

// mapAccountType classifies an account from its ISO 20022 cash account type,
// falling back to keywords in the usage and product strings.
func mapAccountType(d *gc.AccountDetails) account.Type {
	if code := strings.ToUpper(strings.TrimSpace(d.CashAccountType)); code != "" {
		if t, ok := cashAccountTypes[code]; ok {
			return t
		}
		return account.TypeOther
	}

	hint := strings.ToLower(d.Usage + " " + d.Product)
	switch {
	case strings.Contains(hint, "saving"):
		return account.TypeSavings
	case strings.Contains(hint, "credit"):
		return account.TypeCreditCard
	case strings.Contains(hint, "loan"), strings.Contains(hint, "mortgage"):
		return account.TypeLoan
	case strings.Contains(hint, "investment"), strings.Contains(hint, "securities"):
		return account.TypeInvestment
	case strings.Contains(hint, "current"), strings.Contains(hint, "checking"):
		return account.TypeChecking
	}
	return account.TypeChecking
}

func accountName(d *gc.AccountDetails, institution string) string {
	switch {
	case strings.TrimSpace(d.Name) != "":
		return d.Name
	case strings.TrimSpace(d.DisplayName) != "":
		return d.DisplayName
	case institution != "":
		return institution + " Account"
	}
	return "Account " + d.ResourceID
}

// maskAccountNumber keeps the last four characters of the IBAN, BBAN or
// provider id, in that order of preference.
func maskAccountNumber(d *gc.AccountDetails, providerAccountID string) *string {
	source := d.IBAN
	if source == "" {
		source = d.BBAN
	}
	if source == "" {
		source = providerAccountID
	}
	source = strings.ReplaceAll(source, " ", "")
	if source == "" {
		return nil
	}
	if len(source) > 4 {
		source = source[len(source)-4:]
	}
	masked := "****" + source
	return &masked
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// transactionDate uses bookingDate, then valueDate, then fallback.
func transactionDate(tx gc.Transaction, fallback time.Time) time.Time {
	for _, raw := range []string{tx.BookingDate, tx.ValueDate} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return fallback
}

func transactionDescription(tx gc.Transaction) string {
	unstructured := tx.RemittanceInformationUnstructured
	if unstructured == "" && len(tx.RemittanceInformationArray) > 0 {
		unstructured = strings.Join(tx.RemittanceInformationArray, " ")
	}
	if d := firstNonEmpty(unstructured, tx.RemittanceInformationStructured); d != "" {
		return d
	}
	return defaultDescription
}

// externalID is the provider transaction id or, when the bank omits it, a
// deterministic hash of the fields that identify the entry.
func externalID(providerAccountID string, tx gc.Transaction) string {
	if tx.TransactionID != "" {
		return tx.TransactionID
	}
	date := firstNonEmpty(tx.BookingDate, tx.ValueDate)
	sum := sha256.Sum256([]byte(strings.Join([]string{
		providerAccountID,
		tx.TransactionAmount.Amount,
		date,
		transactionDescription(tx),
	}, "|")))
	return fallbackIDPrefix + hex.EncodeToString(sum[:])[:16]
}

// mapTransaction converts one aggregator transaction into insert params.
func mapTransaction(familyID, financialAccountID, providerAccountID string, tx gc.Transaction, pending bool, now time.Time) (transaction.CreateParams, error) {
	signed, err := decimal.NewFromString(tx.TransactionAmount.Amount)
	if err != nil {
		return transaction.CreateParams{}, err
	}
	amount, txType := transaction.Classify(signed)

	currency := strings.ToUpper(tx.TransactionAmount.Currency)
	if !account.IsValidCurrency(currency) {
		currency = defaultCurrency
	}

	id := externalID(providerAccountID, tx)
	params := transaction.CreateParams{
		FamilyID:            familyID,
		AccountID:           financialAccountID,
		Date:                transactionDate(tx, now),
		Description:         transactionDescription(tx),
		Merchant:            optional(firstNonEmpty(tx.CreditorName, tx.DebtorName)),
		Amount:              amount,
		Type:                txType,
		Status:              transaction.StatusNeedsCategorization,
		ExternalID:          id,
		Currency:            currency,
		Pending:             pending,
		ProviderSubcategory: optional(tx.ProprietaryBankTransactionCode),
		Tags:                []string{id},
	}
	if tx.BankTransactionCode != "" {
		params.ProviderCategory = []string{tx.BankTransactionCode}
	}
	return params, nil
}
