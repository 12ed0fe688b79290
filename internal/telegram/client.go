// Package telegram mirrors finished portraits into a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"not-you-kiosk/internal/logging"
)

const (
	maxCaptionBytes = 1024
	defaultQueue    = 8
)

// Sender is the part of tgbotapi.BotAPI the gallery uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Options struct {
	Token  string
	ChatID int64
	// HTTPClient is used to build the bot when Sender is nil.
	HTTPClient *http.Client
	// Sender replaces the real bot, mostly for tests.
	Sender Sender
	// QueueSize bounds portraits waiting to be sent; extras are dropped.
	QueueSize int
	Debug     bool
	Logger    *zerolog.Logger
}

type photo struct {
	image   []byte
	caption string
	at      time.Time
}

// Gallery posts portraits from a single worker goroutine. Publish never
// blocks the caller.
type Gallery struct {
	sender Sender
	chatID int64
	queue  chan photo
	logger *zerolog.Logger

	dropped atomic.Int64
	sent    atomic.Int64
}

func New(opts Options) (*Gallery, error) {
	if opts.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	sender := opts.Sender
	if sender == nil {
		if strings.TrimSpace(opts.Token) == "" {
			return nil, errors.New("telegram token is empty")
		}
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 60 * time.Second}
		}
		bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, client)
		if err != nil {
			return nil, err
		}
		bot.Debug = opts.Debug
		sender = bot
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueue
	}
	return &Gallery{
		sender: sender,
		chatID: opts.ChatID,
		queue:  make(chan photo, size),
		logger: logging.OrDiscard(opts.Logger),
	}, nil
}

// Publish queues a portrait for the chat. When the queue is full the
// portrait is dropped.
func (g *Gallery) Publish(image []byte, caption string) {
	p := photo{image: append([]byte(nil), image...), caption: caption, at: time.Now()}
	select {
	case g.queue <- p:
	default:
		g.dropped.Add(1)
		g.logger.Warn().Msg("gallery queue full, portrait dropped")
	}
}

// Run sends queued portraits until ctx is done.
func (g *Gallery) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-g.queue:
			g.send(p)
		}
	}
}

func (g *Gallery) send(p photo) {
	msg := tgbotapi.NewPhoto(g.chatID, tgbotapi.FileBytes{
		Name:  "portrait_" + p.at.Format("20060102_150405") + ".png",
		Bytes: p.image,
	})
	if p.caption != "" {
		msg.Caption = truncateByBytes(p.caption, maxCaptionBytes)
	}
	if _, err := g.sender.Send(msg); err != nil {
		g.logger.Error().Err(err).Int64("chat_id", g.chatID).Msg("gallery send failed")
		return
	}
	g.sent.Add(1)
	g.logger.Debug().Int64("chat_id", g.chatID).Int("bytes", len(p.image)).Msg("portrait posted")
}

// Stats returns how many portraits were sent and dropped.
func (g *Gallery) Stats() (sent, dropped int64) {
	return g.sent.Load(), g.dropped.Load()
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}
		if buf.Len()+runeBytes > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
