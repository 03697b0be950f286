// Package family resolves the tenant boundary for authenticated users.
package family

import (
	"errors"
	"time"
)

var ErrFamilyNotFound = errors.New("user does not belong to a family")

type Family struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Member struct {
	FamilyID string    `json:"familyId"`
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}
