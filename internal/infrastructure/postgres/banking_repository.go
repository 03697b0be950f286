package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"famfin/internal/domain/banking"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// TokenCipher encrypts aggregator credentials at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// BankingRepository implements banking.Repository for PostgreSQL.
type BankingRepository struct {
	db     *DB
	cipher TokenCipher
}

func NewBankingRepository(db *DB, cipher TokenCipher) *BankingRepository {
	return &BankingRepository{db: db, cipher: cipher}
}

const connectionColumns = `id, family_id, provider, access_token, item_id, institution_id,
		       institution_name, institution_logo, institution_country, created_at, updated_at`

func (r *BankingRepository) CreateConnection(ctx context.Context, params banking.CreateConnectionParams) (*banking.Connection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	encrypted, err := r.cipher.Encrypt(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `
		INSERT INTO bank_connections (id, family_id, provider, access_token, item_id,
		                              institution_id, institution_name, institution_logo, institution_country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + connectionColumns

	conn, err := r.scanConnection(r.db.QueryRowContext(ctx, query,
		uuid.New().String(), params.FamilyID, params.Provider, encrypted, params.ItemID,
		params.InstitutionID, params.InstitutionName, params.InstitutionLogo, params.InstitutionCountry,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

func (r *BankingRepository) GetConnection(ctx context.Context, id string) (*banking.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM bank_connections WHERE id = $1`

	conn, err := r.scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, banking.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *BankingRepository) ListConnections(ctx context.Context, familyID string) ([]*banking.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE family_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*banking.Connection
	for rows.Next() {
		conn, err := r.scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

func (r *BankingRepository) UpdateAccessToken(ctx context.Context, id, accessToken string) error {
	encrypted, err := r.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE bank_connections SET access_token = $1, updated_at = NOW() WHERE id = $2`,
		encrypted, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	if n == 0 {
		return banking.ErrConnectionNotFound
	}
	return nil
}

// LinkAccount creates the financial account and its connected account atomically.
func (r *BankingRepository) LinkAccount(ctx context.Context, params banking.LinkAccountParams) (*banking.LinkedAccount, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var linked banking.LinkedAccount
	err := r.db.WithTx(ctx, "LinkAccount", func(tx *sql.Tx) error {
		financial, err := insertAccount(ctx, tx, uuid.New().String(), params.Financial)
		if err != nil {
			return fmt.Errorf("failed to create financial account: %w", err)
		}

		query := `
			INSERT INTO connected_accounts (id, connection_id, provider_account_id, account_name,
			                                account_type, account_subtype, iban, financial_account_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, connection_id, provider_account_id, account_name, account_type,
			          account_subtype, iban, financial_account_id
		`

		var ca banking.ConnectedAccount
		var subtype, iban sql.NullString
		err = tx.QueryRowContext(ctx, query,
			uuid.New().String(), params.ConnectionID, params.ProviderAccountID, params.AccountName,
			params.AccountType, params.AccountSubtype, params.IBAN, financial.ID,
		).Scan(
			&ca.ID, &ca.ConnectionID, &ca.ProviderAccountID, &ca.AccountName,
			&ca.AccountType, &subtype, &iban, &ca.FinancialAccountID,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return banking.ErrAccountLinked
			}
			return fmt.Errorf("failed to create connected account: %w", err)
		}

		ca.AccountSubtype = stringPtr(subtype)
		ca.IBAN = stringPtr(iban)
		ca.FamilyID = financial.FamilyID
		ca.InstitutionName = financial.Institution

		linked = banking.LinkedAccount{Connected: &ca, Financial: financial}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &linked, nil
}

func (r *BankingRepository) ListConnectedAccounts(ctx context.Context, familyID string, provider banking.Provider) ([]*banking.ConnectedAccount, error) {
	query := `
		SELECT ca.id, ca.connection_id, ca.provider_account_id, ca.account_name, ca.account_type,
		       ca.account_subtype, ca.iban, ca.financial_account_id, bc.family_id, bc.institution_name
		FROM connected_accounts ca
		JOIN bank_connections bc ON bc.id = ca.connection_id
		WHERE bc.family_id = $1 AND ($2::text = '' OR bc.provider = $2::text)
		ORDER BY bc.created_at, ca.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, familyID, string(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*banking.ConnectedAccount
	for rows.Next() {
		var ca banking.ConnectedAccount
		var subtype, iban sql.NullString

		err := rows.Scan(
			&ca.ID, &ca.ConnectionID, &ca.ProviderAccountID, &ca.AccountName, &ca.AccountType,
			&subtype, &iban, &ca.FinancialAccountID, &ca.FamilyID, &ca.InstitutionName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connected account: %w", err)
		}

		ca.AccountSubtype = stringPtr(subtype)
		ca.IBAN = stringPtr(iban)
		accounts = append(accounts, &ca)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connected accounts: %w", err)
	}

	return accounts, nil
}

func (r *BankingRepository) ListFamiliesWithProvider(ctx context.Context, provider banking.Provider) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT family_id FROM bank_connections WHERE provider = $1 ORDER BY family_id`,
		string(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list families: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan family id: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating families: %w", err)
	}

	return ids, nil
}

func (r *BankingRepository) scanConnection(row rowScanner) (*banking.Connection, error) {
	var conn banking.Connection
	var encrypted string
	var logo sql.NullString

	err := row.Scan(
		&conn.ID, &conn.FamilyID, &conn.Provider, &encrypted, &conn.ItemID, &conn.InstitutionID,
		&conn.InstitutionName, &logo, &conn.InstitutionCountry, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conn.AccessToken, err = r.cipher.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	conn.InstitutionLogo = stringPtr(logo)
	return &conn, nil
}
