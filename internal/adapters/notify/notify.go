package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jordan-wright/email"
	"github.com/rs/zerolog"

	"silo-bridge/internal/adapters/telegram"
	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// SMTPConfig параметры почтового сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Email отправляет уведомления письмом.
type Email struct {
	cfg  SMTPConfig
	send func(*email.Email) error
	log  zerolog.Logger
}

var _ domain.Notifier = (*Email)(nil)

// NewEmail создаёт почтовый нотификатор.
func NewEmail(cfg SMTPConfig, logger zerolog.Logger) *Email {
	n := &Email{cfg: cfg, log: logger}
	n.send = n.sendSMTP
	return n
}

func (n *Email) sendSMTP(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	err := mail.Send(addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}

// Notify реализует domain.Notifier.
func (n *Email) Notify(_ context.Context, subject, body string) {
	if len(n.cfg.To) == 0 {
		return
	}
	mail := email.NewEmail()
	mail.From = n.cfg.From
	mail.To = n.cfg.To
	mail.Subject = subject
	mail.Text = []byte(body)

	start := time.Now()
	err := n.send(mail)
	metrics.ObserveNetworkRequest("smtp", "send", n.cfg.Host, start, err)
	if err != nil {
		n.log.Error().Err(err).Str("subject", subject).Msg("notify: не удалось отправить письмо")
	}
}

// BotSender отправляет сообщения Telegram. Реализуется *tgbotapi.BotAPI.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления в чат администраторов.
type Telegram struct {
	bot    BotSender
	chatID int64
	log    zerolog.Logger
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram создаёт нотификатор для чата chatID.
func NewTelegram(bot BotSender, chatID int64, logger zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: logger}
}

// Notify реализует domain.Notifier. При первой ошибке оставшиеся части не отправляются.
func (n *Telegram) Notify(_ context.Context, subject, body string) {
	for _, part := range telegram.Numbered(subject, body, telegram.MessageLimit) {
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(n.chatID, 10), start, err)
		if err != nil {
			n.log.Error().Err(err).Int64("chat", n.chatID).Msg("notify: не удалось отправить сообщение")
			return
		}
	}
}

// Multi рассылает уведомление всем нотификаторам.
type Multi []domain.Notifier

// Notify реализует domain.Notifier.
func (m Multi) Notify(ctx context.Context, subject, body string) {
	for _, n := range m {
		n.Notify(ctx, subject, body)
	}
}
