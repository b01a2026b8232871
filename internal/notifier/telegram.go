package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PIAS404/mail-to-telegram/internal/summary"
)

// sendTimeout bounds a single Bot API call.
const sendTimeout = 15 * time.Second

// maxDiagnosticBytes caps how much of a response body is kept for logs.
const maxDiagnosticBytes = 4096

// Telegram posts text messages to one chat through the Bot API.
type Telegram struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
	logger *slog.Logger
}

// NewTelegram creates a Bot API client for the given chat.
func NewTelegram(apiURL, token, chatID string, logger *slog.Logger) *Telegram {
	return &Telegram{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: sendTimeout},
		logger: logger,
	}
}

// Send delivers text with HTML parse mode. It returns the API response body
// on success; any transport error or non-2xx status is returned as an error
// carrying the diagnostic. Send never retries.
func (t *Telegram) Send(ctx context.Context, text string) (string, error) {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	form := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBytes))
	if err != nil {
		return "", fmt.Errorf("telegram read response: %w", err)
	}

	t.logger.Debug("telegram request completed",
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(body), fmt.Errorf("telegram sendMessage: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// Format renders the notification text for one message. Field values are
// escaped for Telegram's HTML parse mode.
func Format(s summary.Summary) string {
	return fmt.Sprintf("📩 <b>New Mail</b>\n<b>From:</b> %s\n<b>Subject:</b> %s\n\n%s",
		html.EscapeString(s.From),
		html.EscapeString(s.Subject),
		html.EscapeString(s.Snippet),
	)
}
