package store

import (
	"call-assistant/internal/observability"
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TestDB wraps a migrated test database
type TestDB struct {
	db    *sqlx.DB
	Store Store
}

// SetupTestDB connects to the PostgreSQL instance named by TEST_DB_* and
// applies migrations. The test is skipped when TEST_DB_HOST is not set.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	dbHost := os.Getenv("TEST_DB_HOST")
	if dbHost == "" {
		t.Skip("TEST_DB_HOST not set, skipping database test")
	}
	dbPort := getTestEnv("TEST_DB_PORT", "5432")
	dbUser := getTestEnv("TEST_DB_USER", "calls_user")
	dbPass := getTestEnv("TEST_DB_PASSWORD", "calls_password")
	dbName := getTestEnv("TEST_DB_NAME", "calls_db")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPass, dbHost, dbPort, dbName)

	s, err := New(connStr, observability.NewLogger())
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := s.db.Ping(); err != nil {
		s.Close()
		t.Fatalf("failed to ping database: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	if err := s.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return &TestDB{db: s.db, Store: s}
}

func getTestEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

const sqlInsertTestAccount = `
INSERT INTO accounts (name, phone_number, push_token)
VALUES ($1, $2, $3)
RETURNING id, name, phone_number, push_token, created_at, updated_at
`

// CreateTestAccount inserts an account with a unique phone number
func (tdb *TestDB) CreateTestAccount(t *testing.T, name string, pushToken *string) Account {
	t.Helper()

	var account Account
	phone := "+1555" + uuid.New().String()[:8]
	err := tdb.db.GetContext(context.Background(), &account, sqlInsertTestAccount, name, phone, pushToken)
	if err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return account
}

// CreateTestCall inserts an in-progress call for the account
func (tdb *TestDB) CreateTestCall(t *testing.T, account Account) CallRecord {
	t.Helper()

	record, err := tdb.Store.CreateCallRecord(context.Background(), CreateCallRecordParams{
		CallSID:      "CA" + uuid.New().String(),
		AccountID:    account.ID,
		CallerNumber: "+15550001111",
	})
	if err != nil {
		t.Fatalf("failed to create test call: %v", err)
	}
	return record
}
