// Package outbound delivers replies through the WhatsApp Cloud API.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// Sender delivers a message to a phone number. The core treats delivery
// as fire-and-forget.
type Sender interface {
	Send(ctx context.Context, to, message string) error
}

// CloudAPIClient sends text messages through the WhatsApp Cloud API.
type CloudAPIClient struct {
	baseURL string
	token   string
	phoneID string
	httpc   *http.Client
}

// NewCloudAPIClient creates a Cloud API sender for the given phone number ID.
func NewCloudAPIClient(token, phoneID string) *CloudAPIClient {
	return &CloudAPIClient{
		baseURL: defaultGraphURL,
		token:   token,
		phoneID: phoneID,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send posts a text message to the Cloud API messages endpoint.
func (c *CloudAPIClient) Send(ctx context.Context, to, message string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
	}
	msg.Text.Body = message

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// SetBaseURL overrides the Graph API base URL. Used by tests.
func (c *CloudAPIClient) SetBaseURL(url string) {
	c.baseURL = url
}

var _ Sender = (*CloudAPIClient)(nil)
