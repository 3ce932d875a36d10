package worker

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

	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/nps"
)

// WhatsAppSender posts messages to an HTTP WhatsApp gateway.
type WhatsAppSender struct {
	client *http.Client
	url    string
	token  string
	logger *zap.Logger
}

type WhatsAppConfig struct {
	GatewayURL string
	Token      string
	Timeout    time.Duration
}

// whatsAppRequest is the gateway's send body.
type whatsAppRequest struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

func NewWhatsAppSender(cfg WhatsAppConfig, logger *zap.Logger) (*WhatsAppSender, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("whatsapp sender needs a gateway url")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WhatsAppSender{
		client: &http.Client{Timeout: timeout},
		url:    cfg.GatewayURL,
		token:  cfg.Token,
		logger: logger,
	}, nil
}

func (s *WhatsAppSender) Send(ctx context.Context, msg *nps.Message) error {
	if msg.Channel != db.ChannelWhatsApp {
		return fmt.Errorf("whatsapp sender only supports whatsapp, got: %s", msg.Channel)
	}
	if msg.To == "" {
		return fmt.Errorf("whatsapp message has no phone number")
	}

	body, err := json.Marshal(whatsAppRequest{
		// Gateway expects digits only.
		To:        strings.TrimPrefix(msg.To, "+"),
		Message:   msg.Body,
		Reference: msg.EnvelopeID.String(),
	})
	if err != nil {
		return fmt.Errorf("encode whatsapp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "backoffice-nps/1.0")
	req.Header.Set("X-Envelope-ID", msg.EnvelopeID.String())
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp gateway returned status %d: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("nps whatsapp message delivered to gateway",
		zap.String("envelope_id", msg.EnvelopeID.String()),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

func (s *WhatsAppSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelWhatsApp
}
