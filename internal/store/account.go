package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sqlGetAccountByPhoneNumber = `
SELECT id, name, phone_number, push_token, created_at, updated_at
FROM accounts
WHERE phone_number = $1
`

// GetAccountByPhoneNumber finds the account that owns a Twilio number
func (s *Store) GetAccountByPhoneNumber(ctx context.Context, phoneNumber string) (Account, error) {
	var account Account
	err := s.db.GetContext(ctx, &account, sqlGetAccountByPhoneNumber, phoneNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("failed to get account by phone number: %w", err)
	}
	return account, nil
}

const sqlGetAccountByID = `
SELECT id, name, phone_number, push_token, created_at, updated_at
FROM accounts
WHERE id = $1
`

// GetAccountByID retrieves an account by ID
func (s *Store) GetAccountByID(ctx context.Context, accountID uuid.UUID) (Account, error) {
	var account Account
	err := s.db.GetContext(ctx, &account, sqlGetAccountByID, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("failed to get account by id: %w", err)
	}
	return account, nil
}
