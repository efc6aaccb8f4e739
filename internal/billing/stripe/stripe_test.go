package stripe

import (
	"fmt"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestConstructWebhookEvent(t *testing.T) {
	c := NewClient(Config{WebhookSecret: "whsec_test"})
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"invoice.paid","api_version":%q,"data":{"object":{}}}`, stripe.APIVersion))

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := c.ConstructWebhookEvent(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("construct event: %v", err)
	}
	if event.Type != "invoice.paid" {
		t.Errorf("type = %q, want invoice.paid", event.Type)
	}

	if _, err := c.ConstructWebhookEvent(payload, "t=1,v1=bad"); err == nil {
		t.Error("expected error for bad signature")
	}
}

func TestConfigured(t *testing.T) {
	if NewClient(Config{}).Configured() {
		t.Error("expected Configured() = false without secret key")
	}
	if !NewClient(Config{SecretKey: "sk_test"}).Configured() {
		t.Error("expected Configured() = true")
	}
}
