package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/ltgvault/internal/model"
	"github.com/dukerupert/ltgvault/internal/token"
)

type CredentialStore struct {
	db       *sql.DB
	accounts *AccountStore
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db, accounts: NewAccountStore(db)}
}

func scanCredential(scanner interface{ Scan(...any) error }) (*model.Credential, error) {
	var c model.Credential
	var lastUsedAt, revokedAt sql.NullTime
	err := scanner.Scan(
		&c.ID, &c.AccountID, &c.KeyHash, &c.Prefix, &c.LastFour,
		&c.CreatedAt, &lastUsedAt, &revokedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		c.LastUsedAt = &lastUsedAt.Time
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}
	return &c, nil
}

const credentialCols = `id, account_id, key_hash, prefix, last_four, created_at, last_used_at, revoked_at`

// Resolve maps a presented API key to the account that owns it. Unknown and
// revoked keys both yield a nil account.
func (s *CredentialStore) Resolve(secret string) (*model.Account, error) {
	if !token.HasPrefix(secret) {
		return nil, nil
	}

	row := s.db.QueryRow(
		`SELECT `+credentialCols+` FROM credentials WHERE key_hash = ? AND revoked_at IS NULL`,
		token.Hash(secret),
	)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	if _, err := s.db.Exec(
		`UPDATE credentials SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(), c.ID,
	); err != nil {
		slog.Warn("update credential last used", "credential_id", c.ID, "error", err)
	}

	return s.accounts.GetByID(c.AccountID)
}

// Issue revokes every active credential of the account and creates a new one.
// The plaintext key is returned once and never stored.
func (s *CredentialStore) Issue(accountID int64) (string, *model.Credential, error) {
	secret, err := token.IssueAPIKey()
	if err != nil {
		return "", nil, err
	}
	prefix, lastFour := token.Display(secret)
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return "", nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE credentials SET revoked_at = ? WHERE account_id = ? AND revoked_at IS NULL`,
		now, accountID,
	); err != nil {
		return "", nil, fmt.Errorf("revoke credentials: %w", err)
	}

	result, err := tx.Exec(
		`INSERT INTO credentials (account_id, key_hash, prefix, last_four, created_at) VALUES (?, ?, ?, ?, ?)`,
		accountID, token.Hash(secret), prefix, lastFour, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert credential: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return "", nil, fmt.Errorf("last insert id: %w", err)
	}

	c, err := scanCredential(tx.QueryRow(`SELECT `+credentialCols+` FROM credentials WHERE id = ?`, id))
	if err != nil {
		return "", nil, fmt.Errorf("get credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit tx: %w", err)
	}
	return secret, c, nil
}

func (s *CredentialStore) GetByID(id int64) (*model.Credential, error) {
	row := s.db.QueryRow(`SELECT `+credentialCols+` FROM credentials WHERE id = ?`, id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) ListActive(accountID int64) ([]model.Credential, error) {
	rows, err := s.db.Query(
		`SELECT `+credentialCols+` FROM credentials WHERE account_id = ? AND revoked_at IS NULL ORDER BY id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active credentials: %w", err)
	}
	return creds, nil
}

// HasActive reports whether the account currently holds a usable key.
func (s *CredentialStore) HasActive(accountID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM credentials WHERE account_id = ? AND revoked_at IS NULL`,
		accountID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count active credentials: %w", err)
	}
	return n > 0, nil
}
