package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

// GetSellerByCode returns the active seller with the given login code, or nil.
func (r *Repository) GetSellerByCode(ctx context.Context, code string) (*Seller, error) {
	query := `
		SELECT id, code, name, password_hash, active
		FROM sellers
		WHERE code = $1 AND active = TRUE
	`

	var s Seller
	err := r.db.Pool().QueryRow(ctx, query, code).Scan(
		&s.ID,
		&s.Code,
		&s.Name,
		&s.PasswordHash,
		&s.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("query seller", err)
	}
	return &s, nil
}
