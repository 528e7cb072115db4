package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/portfolio-sync/internal/utils"
)

const DefaultTelegramAPIURL = "https://api.telegram.org"

type TelegramNotifier struct {
	Token   string
	ChatID  string
	APIURL  string
	Retries int
	Delay   time.Duration
	Client  *http.Client
}

func NewTelegramNotifier(token, chatID string, retries int, delay time.Duration) *TelegramNotifier {
	if retries < 1 {
		retries = 1
	}
	return &TelegramNotifier{
		Token:   token,
		ChatID:  chatID,
		APIURL:  DefaultTelegramAPIURL,
		Retries: retries,
		Delay:   delay,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Send delivers message, retrying up to Retries times.
func (t *TelegramNotifier) Send(ctx context.Context, message string) error {
	return t.SendWithRetry(ctx, message)
}

func (t *TelegramNotifier) SendWithRetry(ctx context.Context, message string) error {
	var err error
	for attempt := 1; attempt <= t.Retries; attempt++ {
		if err = t.send(ctx, message); err == nil {
			return nil
		}
		utils.GetLogger().Named("notifier").Warnw("telegram send failed", "attempt", attempt, "of", t.Retries, "error", err)
		if attempt == t.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.Delay):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.Retries, err)
}

func (t *TelegramNotifier) send(ctx context.Context, message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.APIURL, "/"), t.Token)
	form := url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// the request URL carries the bot token
		return fmt.Errorf("telegram request failed: %w", redact(err, t.Token))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "***"), err: err}
}
