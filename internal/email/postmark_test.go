package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendActivationLinkSignIn(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://vault.test")
	client.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}

	err := client.SendActivationLink(context.Background(), "alice@example.com", "abc123", PurposeSignIn, 15*time.Minute)
	if err != nil {
		t.Fatalf("send activation link: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if received.Subject != "Your LTG Vault sign-in link" {
		t.Errorf("Subject = %q", received.Subject)
	}
	if !strings.Contains(received.TextBody, "https://vault.test/activate?token=abc123") {
		t.Errorf("TextBody missing link: %q", received.TextBody)
	}
	if !strings.Contains(received.TextBody, "15 minutes") {
		t.Errorf("TextBody missing expiry: %q", received.TextBody)
	}
}

func TestSendActivationLinkPurchase(t *testing.T) {
	var received postmarkEmail

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://vault.test")
	client.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}

	if err := client.SendActivationLink(context.Background(), "bob@example.com", "xyz", PurposePurchase, time.Hour); err != nil {
		t.Fatalf("send activation link: %v", err)
	}
	if received.Subject != "Your LTG Vault subscription is active" {
		t.Errorf("Subject = %q, want purchase subject", received.Subject)
	}
}

func TestSendActivationLinkNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com", "https://vault.test")

	err := client.SendActivationLink(context.Background(), "alice@example.com", "abc123", PurposeSignIn, time.Minute)
	if err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestSendActivationLinkAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://vault.test")
	client.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}

	err := client.SendActivationLink(context.Background(), "alice@example.com", "abc123", PurposeSignIn, time.Minute)
	if err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestActivationLinkEscapesToken(t *testing.T) {
	client := NewClient("t", "f", "https://vault.test")
	if got := client.ActivationLink("a+b/c"); got != "https://vault.test/activate?token=a%2Bb%2Fc" {
		t.Errorf("link = %q", got)
	}
}

func TestConfigured(t *testing.T) {
	c1 := NewClient("token", "from@test.com", "https://test.com")
	if !c1.Configured() {
		t.Error("expected Configured() = true")
	}

	c2 := NewClient("", "from@test.com", "https://test.com")
	if c2.Configured() {
		t.Error("expected Configured() = false")
	}
}

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}
