package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/logging"
)

// PostmarkSender sends through the Postmark HTTP API.
type PostmarkSender struct {
	apiURL     string
	token      string
	from       string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPostmarkSender creates a sender for the Postmark compatible API at apiURL.
func NewPostmarkSender(apiURL, token, from string, timeout time.Duration, logger *zap.Logger) *PostmarkSender {
	return &PostmarkSender{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		from:       from,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("mail"),
	}
}

var _ Sender = (*PostmarkSender)(nil)

type postmarkRequest struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	TextBody      string `json:"TextBody"`
	Tag           string `json:"Tag,omitempty"`
	MessageStream string `json:"MessageStream"`
}

type postmarkResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

// Send posts the message and returns the provider's MessageID.
func (s *PostmarkSender) Send(ctx context.Context, msg *Message) (string, error) {
	body, err := json.Marshal(postmarkRequest{
		From:          s.from,
		To:            msg.To,
		Subject:       msg.Subject,
		TextBody:      msg.TextBody,
		Tag:           msg.Tag,
		MessageStream: "outbound",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/email", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mail request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read mail response: %w", err)
	}

	var out postmarkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("mail provider returned status %d: %s", resp.StatusCode, logging.TruncateString(strings.TrimSpace(string(raw)), 200))
	}
	if resp.StatusCode != http.StatusOK || out.ErrorCode != 0 {
		return "", fmt.Errorf("mail provider rejected message (status %d, code %d): %s", resp.StatusCode, out.ErrorCode, out.Message)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("mail provider returned no message id")
	}

	s.logger.Debug("Mail sent",
		zap.String("to", msg.To),
		zap.String("message_id", out.MessageID))
	return out.MessageID, nil
}
