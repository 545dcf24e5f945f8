// Package telegram sends failure summaries of backup passes to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"envbackup/internal/backup"
	"envbackup/pkg/retry"
)

// maxMessageLen is the Telegram limit for a text message, in characters.
const maxMessageLen = 4096

// Sender is the subset of *bot.Bot used by Notifier.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Notifier implements backup.Notifier.
type Notifier struct {
	sender     Sender
	chatID     int64
	deployment string
	retry      retry.Config
	log        *slog.Logger
}

var _ backup.Notifier = (*Notifier)(nil)

// New creates a bot client without contacting Telegram and wraps it in a
// Notifier.
func New(token string, chatID int64, deployment string, log *slog.Logger) (*Notifier, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewWithSender(b, chatID, deployment, log), nil
}

// NewWithSender wraps an existing sender.
func NewWithSender(s Sender, chatID int64, deployment string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	n := &Notifier{
		sender:     s,
		chatID:     chatID,
		deployment: deployment,
		retry:      retry.DefaultConfig(),
		log:        log.With(slog.String("component", "telegram")),
	}
	n.retry.Retryable = func(err error) bool { return !isPermanent(err) }
	n.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		n.log.Warn("notification retry", slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", err))
	}
	return n
}

// NotifyFailures sends one message listing every failed cadence of res.
func (n *Notifier) NotifyFailures(ctx context.Context, res backup.ScheduledBackupsRunResult) error {
	failed := res.Failed()
	if len(failed) == 0 {
		return nil
	}
	text := FormatFailures(n.deployment, res)
	err := retry.Do(ctx, n.retry, func(ctx context.Context) error {
		_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: n.chatID, Text: text})
		return err
	})
	if err != nil {
		return fmt.Errorf("send failure notification: %w", err)
	}
	n.log.Info("failure notification sent", slog.String("run_id", res.RunID), slog.Int("failed", len(failed)))
	return nil
}

// FormatFailures renders the failure summary of a pass.
func FormatFailures(deployment string, res backup.ScheduledBackupsRunResult) string {
	failed := res.Failed()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Backup pass %s: %d of %d cadences failed\n", res.RunID, len(failed), len(res.Results))
	fmt.Fprintf(&sb, "deployment: %s, local date: %s\n", deployment, res.LocalDate)
	for _, f := range failed {
		fmt.Fprintf(&sb, "\n%s: %s", f.Scope, f.Error)
	}
	out := sb.String()
	if utf8.RuneCountInString(out) > maxMessageLen {
		out = string([]rune(out)[:maxMessageLen-3]) + "..."
	}
	return out
}

func isPermanent(err error) bool {
	return errors.Is(err, bot.ErrorBadRequest) || errors.Is(err, bot.ErrorForbidden) ||
		errors.Is(err, bot.ErrorUnauthorized) || errors.Is(err, bot.ErrorNotFound)
}
