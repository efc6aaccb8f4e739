package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var stripeID sql.NullString
	var status string
	err := scanner.Scan(&a.ID, &a.Email, &stripeID, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if stripeID.Valid {
		a.StripeCustomerID = &stripeID.String
	}
	a.Status = model.AccountStatus(status)
	return &a, nil
}

const accountCols = `id, email, stripe_customer_id, status, created_at, updated_at`

// NormalizeEmail case-folds and trims an address before it is stored or compared.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AccountStore) Create(email string) (*model.Account, error) {
	result, err := s.db.Exec(
		`INSERT INTO accounts (email) VALUES (?)`,
		NormalizeEmail(email),
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	return s.scanOne(row, "get account")
}

func (s *AccountStore) GetByEmail(email string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE email = ?`, NormalizeEmail(email))
	return s.scanOne(row, "get account by email")
}

func (s *AccountStore) GetByStripeCustomerID(customerID string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE stripe_customer_id = ?`, customerID)
	return s.scanOne(row, "get account by stripe customer")
}

func (s *AccountStore) scanOne(row *sql.Row, op string) (*model.Account, error) {
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	subs, err := s.subscriptions(a.ID)
	if err != nil {
		return nil, err
	}
	a.Subscriptions = subs
	return a, nil
}

func (s *AccountStore) subscriptions(accountID int64) (map[feature.Feature]bool, error) {
	rows, err := s.db.Query(`SELECT feature FROM account_subscriptions WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make(map[feature.Feature]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		// Rows for features that were since removed are ignored.
		if f, err := feature.Parse(name); err == nil {
			subs[f] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *AccountStore) UpdateStripeCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update stripe customer id: %w", err)
	}
	return nil
}

func (s *AccountStore) UpdateStatus(id int64, status model.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update account status: invalid status %q", status)
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	return nil
}

// SetSubscribed turns the paid tier for one feature on or off.
func (s *AccountStore) SetSubscribed(id int64, f feature.Feature, subscribed bool) error {
	if !f.Valid() {
		return fmt.Errorf("set subscription: unknown feature %q", f)
	}
	var err error
	if subscribed {
		_, err = s.db.Exec(
			`INSERT OR IGNORE INTO account_subscriptions (account_id, feature) VALUES (?, ?)`,
			id, string(f),
		)
	} else {
		_, err = s.db.Exec(
			`DELETE FROM account_subscriptions WHERE account_id = ? AND feature = ?`,
			id, string(f),
		)
	}
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE accounts SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch account: %w", err)
	}
	return nil
}
