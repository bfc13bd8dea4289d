// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/rs/zerolog"
)

// Failures past this many are summarized to keep under Telegram's message size limit.
const maxFailureLines = 20

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewMessage builds the notification for a finished batch.
func NewMessage(summary models.BatchSummary, repository string) models.TelegramMessage {
	msg := models.TelegramMessage{
		Success:    !summary.Failed(),
		DryRun:     summary.DryRun,
		Repository: repository,
		StartTime:  summary.StartTime,
		Duration:   summary.Duration,
		Total:      len(summary.Results),
	}
	for _, r := range summary.Results {
		switch {
		case r.Failed():
			msg.Failed++
			msg.Failures = append(msg.Failures, fmt.Sprintf("%s: %v", r.Name, r.Error))
		case r.Changed:
			msg.Changed++
		default:
			msg.Unchanged++
		}
	}
	return msg
}

// SendNotification sends a batch notification via Telegram.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      s.formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) formatMessage(msg models.TelegramMessage) string {
	var b bytes.Buffer

	switch {
	case msg.Success && msg.DryRun:
		b.WriteString("🔎 <b>Switch Backup Dry Run</b>\n\n")
	case msg.Success:
		b.WriteString("✅ <b>Switch Backup Successful</b>\n\n")
	default:
		b.WriteString("❌ <b>Switch Backup Failed</b>\n\n")
	}

	b.WriteString(fmt.Sprintf("📁 <b>Repository:</b> %s\n", escapeHTML(msg.Repository)))
	b.WriteString(fmt.Sprintf("⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second)))

	changedLabel := "Changed"
	if msg.DryRun {
		changedLabel = "Would change"
	}

	b.WriteString("\n<b>📊 Switches:</b>\n")
	b.WriteString(fmt.Sprintf("  • Total: %d\n", msg.Total))
	b.WriteString(fmt.Sprintf("  • %s: %d\n", changedLabel, msg.Changed))
	b.WriteString(fmt.Sprintf("  • Unchanged: %d\n", msg.Unchanged))
	b.WriteString(fmt.Sprintf("  • Failed: %d\n", msg.Failed))

	if len(msg.Failures) > 0 {
		b.WriteString("\n<b>⚠️ Failures:</b>\n")
		for i, f := range msg.Failures {
			if i == maxFailureLines {
				b.WriteString(fmt.Sprintf("  • ... and %d more\n", len(msg.Failures)-maxFailureLines))
				break
			}
			b.WriteString(fmt.Sprintf("  • <code>%s</code>\n", escapeHTML(f)))
		}
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
