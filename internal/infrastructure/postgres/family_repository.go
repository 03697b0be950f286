package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"famfin/internal/domain/family"

	"github.com/google/uuid"
)

type FamilyRepository struct {
	db *DB
}

func NewFamilyRepository(db *DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// GetActiveFamily returns the family the user joined first.
func (r *FamilyRepository) GetActiveFamily(ctx context.Context, userID string) (*family.Family, error) {
	query := `
		SELECT f.id, f.name, f.created_at
		FROM families f
		JOIN family_members m ON m.family_id = f.id
		WHERE m.user_id = $1
		ORDER BY m.joined_at
		LIMIT 1
	`

	var f family.Family
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&f.ID, &f.Name, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, family.ErrFamilyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}

	return &f, nil
}

// Create inserts the family and its owner membership together.
func (r *FamilyRepository) Create(ctx context.Context, name, ownerUserID string) (*family.Family, error) {
	var f family.Family
	err := r.db.WithTx(ctx, "CreateFamily", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO families (id, name) VALUES ($1, $2) RETURNING id, name, created_at`,
			uuid.New().String(), name,
		).Scan(&f.ID, &f.Name, &f.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create family: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO family_members (family_id, user_id, role) VALUES ($1, $2, 'owner')`,
			f.ID, ownerUserID,
		)
		if err != nil {
			return fmt.Errorf("failed to add family owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &f, nil
}
