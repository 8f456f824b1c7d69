// Package telegram connects the gateway to Telegram using go-telegram/bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/parrot/internal/gateway"
	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/pkg/models"
)

// ChannelName labels Telegram traffic in logs and metrics.
const ChannelName = "telegram"

// Mode represents how the adapter receives updates.
type Mode string

const (
	// ModePolling uses long polling to receive updates from Telegram.
	ModePolling Mode = "polling"

	// ModeWebhook has Telegram post updates to WebhookURL.
	ModeWebhook Mode = "webhook"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required)
	Token string

	// Mode determines whether to use long polling or webhooks
	Mode Mode

	// WebhookURL is the public HTTPS URL for webhook mode
	WebhookURL string

	// WebhookSecret is checked against the secret token header Telegram sends
	WebhookSecret string

	// MaxPhotoBytes caps downloaded photos. Default: 10 MiB
	MaxPhotoBytes int64

	// DownloadTimeout bounds one photo download. Default: 30s
	DownloadTimeout time.Duration

	// HTTPClient downloads photos. Default: http.DefaultClient
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if c.Mode == "" {
		c.Mode = ModePolling
	}
	switch c.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			return errors.New("telegram: webhook_url is required for webhook mode")
		}
	default:
		return fmt.Errorf("telegram: unknown mode %q", c.Mode)
	}
	if c.MaxPhotoBytes <= 0 {
		c.MaxPhotoBytes = 10 << 20
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter receives Telegram updates, hands them to the gateway and sends
// the replies. It also implements outbound.Notifier with chat ids as
// recipients.
type Adapter struct {
	config  Config
	client  BotClient
	handler gateway.Handler
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ outbound.Notifier = (*Adapter)(nil)

// NewAdapter creates an adapter backed by the Telegram Bot API.
func NewAdapter(config Config, handler gateway.Handler) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		config:  config,
		handler: handler,
		logger:  config.Logger.With("adapter", ChannelName),
	}
	opts := []bot.Option{
		bot.WithDefaultHandler(a.onUpdate),
		bot.WithSkipGetMe(),
	}
	if config.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(config.WebhookSecret))
	}
	b, err := bot.New(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	a.client = &realBotClient{bot: b}
	return a, nil
}

// newAdapterWithClient is used by tests to inject a fake client.
func newAdapterWithClient(config Config, client BotClient, handler gateway.Handler) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:  config,
		client:  client,
		handler: handler,
		logger:  config.Logger.With("adapter", ChannelName),
	}, nil
}

// Mode reports how updates are received.
func (a *Adapter) Mode() Mode {
	return a.config.Mode
}

// WebhookHandler returns the handler to mount on the HTTP server in
// webhook mode.
func (a *Adapter) WebhookHandler() http.Handler {
	return a.client.WebhookHandler()
}

// Start begins receiving updates in the background.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("telegram: adapter already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	switch a.config.Mode {
	case ModeWebhook:
		if _, err := a.client.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         a.config.WebhookURL,
			SecretToken: a.config.WebhookSecret,
		}); err != nil {
			cancel()
			return fmt.Errorf("telegram: set webhook: %w", err)
		}
		a.logger.Info("starting webhook mode", "url", a.config.WebhookURL)
		a.goRun(func() { a.client.StartWebhook(runCtx) })
	default:
		if _, err := a.client.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			a.logger.Warn("failed to delete webhook before polling", "error", err)
		}
		a.logger.Info("starting long polling mode")
		a.goRun(func() { a.client.Start(runCtx) })
	}
	a.cancel = cancel
	return nil
}

func (a *Adapter) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop cancels update processing and waits for running handlers to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("telegram adapter stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: stop: %w", ctx.Err())
	}
}

func (a *Adapter) onUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	a.goRun(func() { a.handleUpdate(ctx, update) })
}

// handleUpdate answers one update. It blocks until the reply is sent.
func (a *Adapter) handleUpdate(ctx context.Context, update *tgmodels.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID

	in := gateway.Inbound{
		Channel:    ChannelName,
		OwnerID:    strconv.FormatInt(msg.From.ID, 10),
		ChatID:     strconv.FormatInt(chatID, 10),
		Text:       msg.Text,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}

	if fileID, mime := imageFile(msg); fileID != "" {
		att, err := a.downloadImage(ctx, fileID, mime)
		if err != nil {
			a.logger.Warn("failed to download photo", "chat_id", chatID, "error", err)
			a.config.Metrics.RecordError(ChannelName, "download")
			if in.Text == "" {
				a.sendText(ctx, chatID, "Sorry, I couldn't download that image.")
				return
			}
		} else {
			in.Attachments = append(in.Attachments, att)
		}
	}
	if in.Text == "" && len(in.Attachments) == 0 {
		// Stickers, voice notes, and other unsupported content.
		return
	}

	a.logger.Debug("received message", "chat_id", chatID, "user_id", msg.From.ID, "attachments", len(in.Attachments))
	if _, err := a.client.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: tgmodels.ChatActionTyping,
	}); err != nil {
		a.logger.Debug("failed to send typing action", "error", err)
	}

	reply := a.handler.Handle(ctx, in)
	if err := a.deliver(ctx, chatID, outbound.Message{Text: reply.Text, Media: reply.Media}); err != nil {
		a.logger.Error("failed to send reply", "chat_id", chatID, "error", err)
		a.config.Metrics.RecordError(ChannelName, "send")
	}
}

// imageFile returns the file to download for a photo or an image sent as
// a document. Telegram lists photo sizes smallest first.
func imageFile(msg *tgmodels.Message) (fileID, mime string) {
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID, "image/jpeg"
	}
	if doc := msg.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		return doc.FileID, doc.MimeType
	}
	return "", ""
}

func (a *Adapter) downloadImage(ctx context.Context, fileID, mime string) (models.Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.DownloadTimeout)
	defer cancel()

	file, err := a.client.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("get file: %w", err)
	}
	if file.FileSize > 0 && file.FileSize > a.config.MaxPhotoBytes {
		return models.Attachment{}, fmt.Errorf("file is %d bytes, limit is %d", file.FileSize, a.config.MaxPhotoBytes)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.FileDownloadLink(file), nil)
	if err != nil {
		return models.Attachment{}, err
	}
	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Attachment{}, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxPhotoBytes+1))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > a.config.MaxPhotoBytes {
		return models.Attachment{}, fmt.Errorf("file exceeds %d bytes", a.config.MaxPhotoBytes)
	}
	return models.Attachment{
		Kind:     models.AttachmentImage,
		MimeType: mime,
		Filename: filepath.Base(file.FilePath),
		Data:     data,
	}, nil
}

// Notify sends msg to the chat identified by recipient.
func (a *Adapter) Notify(ctx context.Context, recipient string, msg outbound.Message) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", recipient)
	}
	if err := a.deliver(ctx, chatID, msg); err != nil {
		return err
	}
	a.config.Metrics.MessageSent(ChannelName)
	return nil
}

// deliver sends the text in chunks and then each media item. A media
// failure does not stop the remaining items; the first error is returned.
func (a *Adapter) deliver(ctx context.Context, chatID int64, msg outbound.Message) error {
	var firstErr error
	for _, chunk := range chunkText(msg.Text, MaxMessageRunes) {
		if _, err := a.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk}); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	for _, ref := range msg.Media {
		if err := a.sendMedia(ctx, chatID, ref); err != nil {
			a.logger.Warn("failed to send media", "chat_id", chatID, "kind", ref.Kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Adapter) sendText(ctx context.Context, chatID int64, text string) {
	if _, err := a.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		a.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) sendMedia(ctx context.Context, chatID int64, ref models.MediaRef) error {
	input, closeFn, err := inputFile(ref)
	if err != nil {
		return err
	}
	defer closeFn()

	caption := outbound.Truncate(ref.Caption, 1024)
	switch ref.Kind {
	case models.MediaAudio:
		_, err = a.client.SendAudio(ctx, &bot.SendAudioParams{ChatID: chatID, Audio: input, Caption: caption})
	case models.MediaImage:
		_, err = a.client.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatID, Photo: input, Caption: caption})
	default:
		return fmt.Errorf("telegram: unsupported media kind %q", ref.Kind)
	}
	if err != nil {
		return fmt.Errorf("telegram: send %s: %w", ref.Kind, err)
	}
	return nil
}

// inputFile uploads local files and lets Telegram fetch URLs itself.
func inputFile(ref models.MediaRef) (tgmodels.InputFile, func(), error) {
	if ref.Path != "" {
		f, err := os.Open(ref.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram: open media: %w", err)
		}
		return &tgmodels.InputFileUpload{Filename: filepath.Base(ref.Path), Data: f}, func() { _ = f.Close() }, nil
	}
	if ref.URL != "" {
		return &tgmodels.InputFileString{Data: ref.URL}, func() {}, nil
	}
	return nil, nil, errors.New("telegram: media has neither path nor url")
}
