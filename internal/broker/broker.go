// Package broker posts HMAC-signed payloads to the draft-CMS trigger
// webhook contract and verifies inbound signatures, adapted from the
// teacher's password-hashing internal/auth package: bcrypt there secures a
// credential at rest, HMAC here secures a payload in transit, but both
// exist to let one side prove it holds a shared secret without exposing it.
package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const SignatureHeader = "X-Newsradar-Signature"

// Client posts signed JSON payloads to a single webhook endpoint.
type Client struct {
	httpClient *http.Client
	webhookURL string
	secret     []byte
}

// NewClient constructs a Client that signs every payload with secret before
// posting to webhookURL.
func NewClient(webhookURL string, secret []byte) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		secret:     secret,
	}
}

// Post marshals payload, signs it, and delivers it to the webhook. A
// non-2xx response is treated as a failed delivery.
func (c *Client) Post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(c.secret, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send trigger request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trigger webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex-encoded HMAC-SHA256 of body keyed by secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the correct HMAC-SHA256 of body under
// secret, used to authenticate inbound webhook calls (e.g. a CMS confirming
// draft creation back to newsradar).
func Verify(secret, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
