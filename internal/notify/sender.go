package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers rendered emails.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// HTTPSender posts emails as JSON to a transactional email API.
type HTTPSender struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewHTTPSender(url, apiKey string) *HTTPSender {
	return &HTTPSender{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPSender) Send(ctx context.Context, e Email) error {
	if s.URL == "" {
		return errors.New("notify: email api url not configured")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// LogSender writes emails to the log instead of delivering them. Used outside production.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, e Email) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("email (not delivered)", "to", e.To, "subject", e.Subject, "text", e.Text)
	return nil
}
