package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// MessageSender is the part of the Telegram bot API the sink needs.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends event messages to the chat configured for the recipient.
type TelegramSink struct {
	bot     MessageSender
	chatIDs map[string]int64
	loc     *time.Location
	logger  zerolog.Logger
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// NewTelegramSink renders booking times in loc; nil means time.Local.
func NewTelegramSink(bot MessageSender, chatIDs map[string]int64, loc *time.Location, logger *zerolog.Logger) *TelegramSink {
	if loc == nil {
		loc = time.Local
	}
	return &TelegramSink{
		bot:     bot,
		chatIDs: chatIDs,
		loc:     loc,
		logger:  logger.With().Str("component", "notify.telegram").Logger(),
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Deliver sends the event; recipients without a configured chat are skipped.
func (s *TelegramSink) Deliver(_ context.Context, ev Event) error {
	chatID, ok := s.chatIDs[ev.RecipientID]
	if !ok {
		s.logger.Debug().Str("recipient_id", ev.RecipientID).Msg("No telegram chat for recipient")
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, formatMessage(ev, s.loc))
	if _, err := s.bot.Send(msg); err != nil {
		return classifyTelegramError(err)
	}
	return nil
}

func formatMessage(ev Event, loc *time.Location) string {
	text := ev.Message
	if ev.FacilityName != "" {
		text = fmt.Sprintf("%s\n%s", text, ev.FacilityName)
	}
	if !ev.StartTime.IsZero() {
		text = fmt.Sprintf("%s\n%s - %s", text,
			ev.StartTime.In(loc).Format("02.01.2006 15:04"), ev.EndTime.In(loc).Format("15:04"))
	}
	return text
}

// classifyTelegramError maps API errors to retry behaviour: 429 waits for the
// advertised delay, 400 and 403 are permanent, everything else is retried.
func classifyTelegramError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests:
		return &RetryAfterError{Err: err, After: time.Duration(apiErr.RetryAfter) * time.Second}
	case http.StatusBadRequest, http.StatusForbidden:
		return Permanent(err)
	}
	return err
}
