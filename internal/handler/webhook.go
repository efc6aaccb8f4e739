package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	billingstripe "github.com/dukerupert/ltgvault/internal/billing/stripe"
	"github.com/dukerupert/ltgvault/internal/email"
	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/model"
)

const maxWebhookBytes = 65536

// errIgnored marks events that are valid but carry nothing to act on.
type errIgnored string

func (e errIgnored) Error() string { return string(e) }

// StripeWebhook applies subscription lifecycle events. Store failures
// answer 500 so Stripe retries; everything else is acknowledged.
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.billing.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature", "error", err)
		h.metrics.RecordWebhook("unknown", "bad_signature")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(r.Context(), event)
	case "invoice.paid":
		err = h.handleInvoice(event, model.StatusActive)
	case "invoice.payment_failed":
		err = h.handleInvoice(event, model.StatusPastDue)
	case "customer.subscription.updated":
		err = h.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(event)
	default:
		err = errIgnored("unhandled event type")
	}

	switch e := err.(type) {
	case nil:
		h.metrics.RecordWebhook(eventType, "ok")
	case errIgnored:
		h.logger.Debug("webhook ignored", "type", eventType, "event_id", event.ID, "reason", string(e))
		h.metrics.RecordWebhook(eventType, "ignored")
	default:
		h.logger.Error("webhook failed", "type", eventType, "event_id", event.ID, "error", err)
		h.metrics.RecordWebhook(eventType, "error")
		http.Error(w, "webhook processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *BillingHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return errIgnored("unmarshal checkout session: " + err.Error())
	}

	f, err := feature.Parse(sess.Metadata[billingstripe.MetadataFeature])
	if err != nil {
		return errIgnored("checkout session has no feature metadata")
	}

	var customerID, addr string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if sess.CustomerDetails != nil {
		addr = sess.CustomerDetails.Email
	}
	if addr == "" {
		addr = sess.CustomerEmail
	}

	var acct *model.Account
	if customerID != "" {
		if acct, err = h.accounts.GetByStripeCustomerID(customerID); err != nil {
			return err
		}
	}
	if acct == nil && addr != "" {
		if acct, err = h.accounts.GetByEmail(addr); err != nil {
			return err
		}
	}
	if acct == nil {
		if addr == "" {
			return errIgnored("checkout session has no customer email")
		}
		if acct, err = h.accounts.Create(addr); err != nil {
			return err
		}
		h.logger.Info("account created by checkout", "account_id", acct.ID)
	}

	if customerID != "" && (acct.StripeCustomerID == nil || *acct.StripeCustomerID != customerID) {
		if err := h.accounts.UpdateStripeCustomerID(acct.ID, customerID); err != nil {
			return err
		}
	}
	if err := h.accounts.SetSubscribed(acct.ID, f, true); err != nil {
		return err
	}
	if err := h.accounts.UpdateStatus(acct.ID, model.StatusActive); err != nil {
		return err
	}
	h.logger.Info("subscription started", "account_id", acct.ID, "feature", f)

	hasKey, err := h.credentials.HasActive(acct.ID)
	if err != nil {
		return err
	}
	if !hasKey {
		if err := h.activator.Send(ctx, acct, email.PurposePurchase); err != nil {
			// The purchase is recorded; the customer can still request a sign-in link.
			h.logger.Error("send purchase activation", "account_id", acct.ID, "error", err)
		}
	}
	return nil
}

func (h *BillingHandler) handleInvoice(event stripe.Event, status model.AccountStatus) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return errIgnored("unmarshal invoice: " + err.Error())
	}
	if invoice.Customer == nil || invoice.Customer.ID == "" {
		return errIgnored("invoice has no customer")
	}

	acct, err := h.accounts.GetByStripeCustomerID(invoice.Customer.ID)
	if err != nil {
		return err
	}
	if acct == nil {
		return errIgnored("no account for customer")
	}
	return h.accounts.UpdateStatus(acct.ID, status)
}

func (h *BillingHandler) handleSubscriptionUpdated(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return errIgnored("unmarshal subscription: " + err.Error())
	}
	acct, err := h.subscriptionAccount(sub)
	if err != nil || acct == nil {
		return err
	}

	status, ok := accountStatusFor(sub.Status)
	if !ok {
		return errIgnored("unmapped subscription status " + string(sub.Status))
	}
	// past_due keeps paid access while Stripe retries the payment.
	subscribed := status == model.StatusActive || status == model.StatusPastDue
	for _, f := range h.subscriptionFeatures(sub) {
		if err := h.accounts.SetSubscribed(acct.ID, f, subscribed); err != nil {
			return err
		}
	}
	return h.accounts.UpdateStatus(acct.ID, status)
}

func (h *BillingHandler) handleSubscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return errIgnored("unmarshal subscription: " + err.Error())
	}
	acct, err := h.subscriptionAccount(sub)
	if err != nil || acct == nil {
		return err
	}

	for _, f := range h.subscriptionFeatures(sub) {
		if err := h.accounts.SetSubscribed(acct.ID, f, false); err != nil {
			return err
		}
		h.logger.Info("subscription ended", "account_id", acct.ID, "feature", f)
	}

	// Other features may still be paid for; only a fully lapsed account is canceled.
	acct, err = h.accounts.GetByID(acct.ID)
	if err != nil {
		return err
	}
	if acct != nil && len(acct.Subscriptions) == 0 {
		return h.accounts.UpdateStatus(acct.ID, model.StatusCanceled)
	}
	return nil
}

func (h *BillingHandler) subscriptionAccount(sub stripe.Subscription) (*model.Account, error) {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, errIgnored("subscription has no customer")
	}
	acct, err := h.accounts.GetByStripeCustomerID(sub.Customer.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup subscription customer: %w", err)
	}
	if acct == nil {
		return nil, errIgnored("no account for customer")
	}
	return acct, nil
}

// subscriptionFeatures resolves features from item prices, falling back to
// the metadata written at checkout.
func (h *BillingHandler) subscriptionFeatures(sub stripe.Subscription) []feature.Feature {
	seen := make(map[feature.Feature]bool)
	var out []feature.Feature
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if f, ok := h.catalog.FeatureForPrice(item.Price.ID); ok && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	if len(out) == 0 {
		if f, err := feature.Parse(sub.Metadata[billingstripe.MetadataFeature]); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func accountStatusFor(s stripe.SubscriptionStatus) (model.AccountStatus, bool) {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.StatusActive, true
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return model.StatusPastDue, true
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.StatusCanceled, true
	case stripe.SubscriptionStatusIncomplete:
		return model.StatusPending, true
	}
	return "", false
}
