package alert

import (
	"context"
	"fmt"

	"marketsync/internal/domain"
	"marketsync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramLimit is the longest text one message may carry.
const telegramLimit = 4096

// TelegramAlerter posts reports to one chat.
type TelegramAlerter struct {
	bot    domain.TelegramSender
	chatID int64
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelegramAlerter(bot domain.TelegramSender, chatID int64) *TelegramAlerter {
	return &TelegramAlerter{bot: bot, chatID: chatID}
}

func (a *TelegramAlerter) Send(_ context.Context, report *models.HealthReport) error {
	text := tgbotapi.EscapeText(tgbotapi.ModeHTML, Format(report))
	if runes := []rune(text); len(runes) > telegramLimit {
		text = string(runes[:telegramLimit-1]) + "…"
	}

	msg := tgbotapi.NewMessage(a.chatID, "<b>⚠️ marketsync</b>\n"+text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := a.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}
