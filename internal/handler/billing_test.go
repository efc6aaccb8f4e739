package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/model"
)

func TestCheckoutCreatesCustomerOnce(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")

	rec := serve(t, env.billed.Checkout, call{method: "POST", path: "/api/billing/checkout", acct: acct,
		body: map[string]string{"feature": "threadgen", "interval": "annual"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if url := decodeBody(t, rec)["url"]; url != "https://checkout.stripe.test/session" {
		t.Errorf("url = %v", url)
	}
	if len(env.billing.checkouts) != 1 || env.billing.checkouts[0] != "cus_test|price_thread_annual|threadgen" {
		t.Errorf("checkouts = %v", env.billing.checkouts)
	}

	acct, _ = env.accounts.GetByID(acct.ID)
	if acct.StripeCustomerID == nil || *acct.StripeCustomerID != "cus_test" {
		t.Fatalf("customer id not saved: %v", acct.StripeCustomerID)
	}

	serve(t, env.billed.Checkout, call{method: "POST", path: "/api/billing/checkout", acct: acct,
		body: map[string]string{"feature": "threadgen"}})
	if len(env.billing.customers) != 1 {
		t.Errorf("customers created = %d, want 1", len(env.billing.customers))
	}
}

func TestCheckoutValidation(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")
	paid := env.newAccount(t, "paid@example.com", feature.ThreadGen)

	cases := []struct {
		name string
		acct *model.Account
		body map[string]string
		want int
	}{
		{"unknown feature", acct, map[string]string{"feature": "nope"}, http.StatusBadRequest},
		{"bad interval", acct, map[string]string{"feature": "threadgen", "interval": "weekly"}, http.StatusBadRequest},
		{"no price configured", acct, map[string]string{"feature": "postup"}, http.StatusBadRequest},
		{"already subscribed", paid, map[string]string{"feature": "threadgen"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, env.billed.Checkout, call{method: "POST", path: "/api/billing/checkout", body: tc.body, acct: tc.acct})
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCheckoutStripeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.billing.err = errors.New("stripe down")
	acct := env.newAccount(t, "a@example.com")

	rec := serve(t, env.billed.Checkout, call{method: "POST", path: "/api/billing/checkout", acct: acct,
		body: map[string]string{"feature": "threadgen"}})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestPortal(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")

	rec := serve(t, env.billed.Portal, call{method: "POST", path: "/api/billing/portal", acct: acct})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("without customer: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	if err := env.accounts.UpdateStripeCustomerID(acct.ID, "cus_42"); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	acct, _ = env.accounts.GetByID(acct.ID)
	rec = serve(t, env.billed.Portal, call{method: "POST", path: "/api/billing/portal", acct: acct})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if url := decodeBody(t, rec)["url"]; url != "https://billing.stripe.test/cus_42" {
		t.Errorf("url = %v", url)
	}
}
