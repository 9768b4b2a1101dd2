package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"library-service/internal/core/model"
)

// errPermanent marks delivery failures that a retry cannot fix.
var errPermanent = errors.New("permanent")

// TelegramSender delivers plain text messages through the Bot API. It is
// used by the queue worker, not by the service directly.
type TelegramSender struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Retry   int
	log     *zap.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegramSender(baseURL, token string, retry int, httpClient *http.Client, log *zap.Logger) *TelegramSender {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if retry < 0 {
		retry = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramSender{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  httpClient,
		Retry:   retry,
		log:     log,
	}
}

// client connects on first use. The library calls getMe while connecting,
// so a Telegram outage at worker start only delays delivery.
func (t *TelegramSender) client() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.Token, t.BaseURL+"/bot%s/%s", t.Client)
	if err != nil {
		return nil, classifyTelegramErr(err)
	}
	t.bot = bot
	return bot, nil
}

// newMessage accepts numeric chat ids and @channel usernames.
func newMessage(chatID, text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(chatID, text)
}

func (t *TelegramSender) Notify(ctx context.Context, n model.Notification) error {
	if n.ChannelID == "" {
		return fmt.Errorf("telegram: %w: empty chat id", errPermanent)
	}
	msg := newMessage(n.ChannelID, n.Text)

	var lastErr error
	attempts := t.Retry + 1
	for i := 0; i < attempts; i++ {
		err := t.sendOnce(msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) {
			return err
		}
		lastErr = err
		t.log.Debug("telegram send failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < attempts-1 {
			select {
			case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (t *TelegramSender) sendOnce(msg tgbotapi.MessageConfig) error {
	bot, err := t.client()
	if err != nil {
		return err
	}
	if _, err := bot.Request(msg); err != nil {
		return classifyTelegramErr(err)
	}
	return nil
}

// classifyTelegramErr marks Bot API rejections (4xx other than 429) as
// permanent. Transport errors and unreadable responses stay retryable.
func classifyTelegramErr(err error) error {
	code, msg := 0, ""
	var tp *tgbotapi.Error
	var tv tgbotapi.Error
	switch {
	case errors.As(err, &tp):
		code, msg = tp.Code, tp.Message
	case errors.As(err, &tv):
		code, msg = tv.Code, tv.Message
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return fmt.Errorf("telegram: %w: %d %s", errPermanent, code, msg)
	}
	return fmt.Errorf("telegram: %w", err)
}
