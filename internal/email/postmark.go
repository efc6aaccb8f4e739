package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type Purpose string

const (
	PurposeSignIn   Purpose = "signin"
	PurposePurchase Purpose = "purchase"
)

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// ActivationLink is the URL a recipient opens to exchange token for an API key.
func (c *Client) ActivationLink(token string) string {
	return fmt.Sprintf("%s/activate?token=%s", c.baseURL, url.QueryEscape(token))
}

// SendActivationLink emails a one-click link that issues a fresh API key.
func (c *Client) SendActivationLink(ctx context.Context, toEmail, token string, purpose Purpose, ttl time.Duration) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	var subject, action string
	switch purpose {
	case PurposePurchase:
		subject = "Your LTG Vault subscription is active"
		action = "get your API key"
	default:
		subject = "Your LTG Vault sign-in link"
		action = "get a new API key"
	}

	link := c.ActivationLink(token)
	minutes := int(ttl.Minutes())
	textBody := fmt.Sprintf("Click the link below to %s:\n\n%s\n\nThis link expires in %d minutes. Using it replaces any key you already have.", action, link, minutes)
	htmlBody := fmt.Sprintf(
		`<p>Click the link below to %s:</p><p><a href="%s">%s</a></p><p>This link expires in %d minutes. Using it replaces any key you already have.</p>`,
		action, link, action, minutes,
	)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
