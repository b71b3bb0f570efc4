// internal/notify/telegram.go
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/deskhand/internal/types"
)

const maxTelegramMessage = 4096

// Telegram pushes notifications to a single configured chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier. An empty token means Telegram is
// not configured; callers should use Noop instead.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

var _ Notifier = (*Telegram)(nil)

// ApprovalRequested announces a new pending approval.
func (t *Telegram) ApprovalRequested(ctx context.Context, req *types.ApprovalRequest) {
	t.send(fmt.Sprintf("Approval needed (%s)\n%s\n\nApprove: deskhand approval approve %s", req.Category, req.Context, req.ID))
}

// Alert forwards an operator alert.
func (t *Telegram) Alert(ctx context.Context, alert *types.Alert) {
	t.send(fmt.Sprintf("[%s] %s", alert.Severity, alert.Message))
}

// Escalation announces a loop that ran out of iterations.
func (t *Telegram) Escalation(ctx context.Context, esc *types.Escalation) {
	t.send(fmt.Sprintf("Escalation for loop %s: %s\nTask: %s", esc.LoopID, esc.Reason, esc.Prompt))
}

func (t *Telegram) send(text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		if _, err := t.bot.Send(msg); err != nil {
			slog.Warn("telegram send failed", "error", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
