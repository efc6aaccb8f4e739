package model

import (
	"encoding/json"
	"time"

	"github.com/dukerupert/ltgvault/internal/feature"
)

type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusPastDue  AccountStatus = "past_due"
	StatusCanceled AccountStatus = "canceled"
	StatusPending  AccountStatus = "pending"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled, StatusPending:
		return true
	}
	return false
}

type Account struct {
	ID               int64                    `json:"id"`
	Email            string                   `json:"email"`
	StripeCustomerID *string                  `json:"stripe_customer_id,omitempty"`
	Status           AccountStatus            `json:"status"`
	Subscriptions    map[feature.Feature]bool `json:"subscriptions"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Subscribed reports whether the account pays for f.
func (a *Account) Subscribed(f feature.Feature) bool {
	return a != nil && a.Subscriptions[f]
}

type Credential struct {
	ID         int64      `json:"id"`
	AccountID  int64      `json:"account_id"`
	KeyHash    string     `json:"-"`
	Prefix     string     `json:"prefix"`
	LastFour   string     `json:"last_four"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

type UsageEvent struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	Feature   feature.Feature `json:"feature"`
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UsageTotal is a derived per-feature count for one account.
type UsageTotal struct {
	Feature   feature.Feature `json:"feature"`
	Lifetime  int             `json:"lifetime"`
	ThisMonth int             `json:"this_month"`
}

type Resume struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	Title     string          `json:"title"`
	Template  string          `json:"template"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
