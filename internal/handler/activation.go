package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/ltgvault/internal/email"
	"github.com/dukerupert/ltgvault/internal/model"
	"github.com/dukerupert/ltgvault/internal/token"
)

// Mailer delivers activation links.
type Mailer interface {
	Configured() bool
	ActivationLink(token string) string
	SendActivationLink(ctx context.Context, toEmail, token string, purpose email.Purpose, ttl time.Duration) error
}

// Activator issues access tokens and emails them as one-click links.
type Activator struct {
	signer *token.Signer
	mailer Mailer
	ttl    time.Duration
	logger *slog.Logger
}

func NewActivator(signer *token.Signer, mailer Mailer, ttl time.Duration, logger *slog.Logger) *Activator {
	return &Activator{signer: signer, mailer: mailer, ttl: ttl, logger: logger}
}

// Send emails acct an activation link. Without a configured mailer the link
// is logged instead so local setups can still activate.
func (a *Activator) Send(ctx context.Context, acct *model.Account, purpose email.Purpose) error {
	tok, err := a.signer.Issue(acct.ID, acct.Email, a.ttl)
	if err != nil {
		return fmt.Errorf("issue access token: %w", err)
	}
	if !a.mailer.Configured() {
		a.logger.Info("email not configured, activation link follows",
			"account_id", acct.ID, "link", a.mailer.ActivationLink(tok))
		return nil
	}
	if err := a.mailer.SendActivationLink(ctx, acct.Email, tok, purpose, a.ttl); err != nil {
		return fmt.Errorf("send activation link: %w", err)
	}
	return nil
}

// Redeem validates an access token and returns its claims.
func (a *Activator) Redeem(tok string) (token.Claims, error) {
	return a.signer.Validate(tok)
}
