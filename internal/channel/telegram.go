package channel

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"go.uber.org/zap"
)

const (
	TelegramChannelName = "telegram"

	// Telegram allows 4096 characters per message and 1024 per caption.
	maxMessageLen = 4000
	maxCaptionLen = 1024
)

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return w.bot.GetFile(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// Command is a bot menu entry.
type Command struct {
	Name        string
	Description string
}

var publicCommands = []Command{
	{"help", "📩 Помощь и поддержка"},
	{"add", "➕ Добавить сборку"},
	{"show_all", "📋 Все сборки"},
	{"home", "🏠 Главное меню"},
}

var adminCommands = append([]Command{
	{"restart", "🔁 Перезапустить бота"},
	{"log", "🪵 Последние строки логов"},
	{"status", "📊 Статистика и состояние"},
	{"check_files", "🗂 Проверка модулей"},
	{"list_builds", "📦 Список всех сборок"},
	{"delete", "❌ Удалить сборку"},
	{"stop_delete", "⛔ Остановить удаление"},
}, publicCommands...)

type TelegramChannel struct {
	bus        *bus.MessageBus
	logger     *zap.Logger
	token      string
	admins     map[int64]bool
	bot        TelegramBot
	proxy      string
	httpClient *http.Client
	cancel     context.CancelFunc
	done       chan struct{}
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, logger, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	admins := make(map[int64]bool, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = true
	}

	ch := &TelegramChannel{
		bus:        b,
		logger:     logger.Named(TelegramChannelName),
		token:      cfg.Token,
		admins:     admins,
		proxy:      cfg.Proxy,
		httpClient: http.DefaultClient,
		botFactory: factory,
	}
	return ch, nil
}

func (t *TelegramChannel) Name() string { return TelegramChannelName }

func (t *TelegramChannel) initBot() error {
	var client *http.Client
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	} else {
		client = http.DefaultClient
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	t.logger.Info("authorized", zap.String("username", bot.GetSelf().UserName))
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}
	t.registerCommands()

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		defer close(t.done)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, update)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("polling started")
	return nil
}

// registerCommands publishes the public menu globally and the admin menu in
// each admin's private chat. Failures are logged; the bot still works without
// a command menu.
func (t *TelegramChannel) registerCommands() {
	if _, err := t.bot.Request(tgbotapi.NewDeleteMyCommands()); err != nil {
		t.logger.Warn("clear commands failed", zap.Error(err))
	}
	if _, err := t.bot.Request(tgbotapi.NewSetMyCommands(botCommands(publicCommands)...)); err != nil {
		t.logger.Warn("set public commands failed", zap.Error(err))
	}
	for id := range t.admins {
		scope := tgbotapi.NewBotCommandScopeChat(id)
		if _, err := t.bot.Request(tgbotapi.NewSetMyCommandsWithScope(scope, botCommands(adminCommands)...)); err != nil {
			t.logger.Warn("set admin commands failed", zap.Int64("chat_id", id), zap.Error(err))
		}
	}
}

func botCommands(cmds []Command) []tgbotapi.BotCommand {
	out := make([]tgbotapi.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (t *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		t.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		t.handleCallback(ctx, update.CallbackQuery)
	}
}

func (t *TelegramChannel) publish(ctx context.Context, msg bus.InboundMessage) {
	select {
	case t.bus.Inbound <- msg:
	case <-ctx.Done():
	}
}

func fullName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}

	var command string
	if msg.IsCommand() {
		command = msg.Command()
		content = msg.CommandArguments()
	}

	media := t.collectMedia(msg)

	if content == "" && command == "" && len(media) == 0 {
		return
	}

	t.publish(ctx, bus.InboundMessage{
		Channel:   TelegramChannelName,
		SenderID:  msg.From.ID,
		ChatID:    msg.Chat.ID,
		Sender:    fullName(msg.From),
		Username:  msg.From.UserName,
		Content:   strings.TrimSpace(content),
		Command:   command,
		Media:     media,
		Timestamp: time.Unix(int64(msg.Date), 0),
	})
}

// collectMedia downloads attached images. Only admins upload images, so
// attachments from anyone else are ignored without touching the network.
// Non-image documents are reported without their content.
func (t *TelegramChannel) collectMedia(msg *tgbotapi.Message) []bus.Media {
	if !t.admins[msg.From.ID] {
		return nil
	}

	var media []bus.Media
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		data, err := t.downloadFileData(photo.FileID)
		if err != nil {
			t.logger.Warn("download photo failed", zap.String("file_id", photo.FileID), zap.Error(err))
		} else {
			mediaType := http.DetectContentType(data)
			if !strings.HasPrefix(mediaType, "image/") {
				mediaType = "image/jpeg"
			}
			media = append(media, bus.Media{FileID: photo.FileID, MimeType: mediaType, Data: data})
		}
	}

	if msg.Document != nil {
		mediaType := msg.Document.MimeType
		if !strings.HasPrefix(mediaType, "image/") {
			media = append(media, bus.Media{FileID: msg.Document.FileID, MimeType: mediaType})
			return media
		}
		data, err := t.downloadFileData(msg.Document.FileID)
		if err != nil {
			t.logger.Warn("download document failed", zap.String("file_id", msg.Document.FileID), zap.Error(err))
		} else {
			media = append(media, bus.Media{FileID: msg.Document.FileID, MimeType: mediaType, Data: data})
		}
	}
	return media
}

func (t *TelegramChannel) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		t.logger.Debug("answer callback failed", zap.Error(err))
	}
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}

	t.publish(ctx, bus.InboundMessage{
		Channel:  TelegramChannelName,
		SenderID: cq.From.ID,
		ChatID:   cq.Message.Chat.ID,
		Sender:   fullName(cq.From),
		Username: cq.From.UserName,
		Callback: &bus.Callback{
			ID:        cq.ID,
			Data:      cq.Data,
			MessageID: cq.Message.MessageID,
		},
		Timestamp: time.Now(),
	})
}

func (t *TelegramChannel) downloadFileData(fileID string) ([]byte, error) {
	if t.bot == nil {
		return nil, fmt.Errorf("telegram bot not initialized")
	}

	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get telegram file: %w", err)
	}

	client := t.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Get(file.Link(t.token))
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download telegram file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read telegram file body: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("telegram file is empty")
	}

	return data, nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	if t.done != nil {
		<-t.done
	}
	t.logger.Info("stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("invalid chat id %d", msg.ChatID)
	}

	if msg.EditMessageID != 0 {
		return t.edit(msg)
	}
	if msg.Photo != "" {
		captioned, err := t.sendPhoto(msg)
		if err == nil && captioned {
			return nil
		}
		if err != nil {
			t.logger.Warn("send photo failed, falling back to text", zap.String("photo", msg.Photo), zap.Error(err))
		}
	}
	return t.sendText(msg.ChatID, msg.Content, msg.HTML, replyMarkup(msg.Markup))
}

func (t *TelegramChannel) sendText(chatID int64, content string, isHTML bool, markup any) error {
	chunks := splitMessage(content, maxMessageLen)
	for i, chunk := range chunks {
		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		if isHTML {
			tgMsg.ParseMode = tgbotapi.ModeHTML
		}
		if i == len(chunks)-1 && markup != nil {
			tgMsg.ReplyMarkup = markup
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			if !isHTML {
				return fmt.Errorf("send telegram message: %w", err)
			}
			// Retry without HTML parse mode
			t.logger.Debug("html send failed, retrying as plain text", zap.Error(err))
			tgMsg.ParseMode = ""
			tgMsg.Text = stripHTML(chunk)
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
		}
	}
	return nil
}

// sendPhoto sends the image and reports whether the content went out as its
// caption. Content too long for a caption is left for the caller to send.
func (t *TelegramChannel) sendPhoto(msg bus.OutboundMessage) (captioned bool, err error) {
	photo := tgbotapi.NewPhoto(msg.ChatID, tgbotapi.FilePath(msg.Photo))
	captioned = utf8.RuneCountInString(msg.Content) <= maxCaptionLen
	if captioned {
		photo.Caption = msg.Content
		if msg.HTML {
			photo.ParseMode = tgbotapi.ModeHTML
		}
		if markup := replyMarkup(msg.Markup); markup != nil {
			photo.ReplyMarkup = markup
		}
	}
	if _, err := t.bot.Send(photo); err != nil {
		return false, err
	}
	return captioned, nil
}

// edit replaces the text of an earlier message. Without content only its
// inline keyboard is replaced, which clears it when Markup has no rows.
func (t *TelegramChannel) edit(msg bus.OutboundMessage) error {
	kb := inlineMarkup(msg.Markup)

	if msg.Content == "" {
		if kb == nil {
			kb = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
		}
		edit := tgbotapi.NewEditMessageReplyMarkup(msg.ChatID, msg.EditMessageID, *kb)
		if _, err := t.bot.Request(edit); err != nil {
			return fmt.Errorf("edit telegram markup: %w", err)
		}
		return nil
	}

	edit := tgbotapi.NewEditMessageText(msg.ChatID, msg.EditMessageID, msg.Content)
	if msg.HTML {
		edit.ParseMode = tgbotapi.ModeHTML
	}
	edit.ReplyMarkup = kb
	if _, err := t.bot.Request(edit); err != nil {
		// The message may be too old or unchanged; send a fresh one instead.
		t.logger.Debug("edit failed, sending new message", zap.Int("message_id", msg.EditMessageID), zap.Error(err))
		return t.sendText(msg.ChatID, msg.Content, msg.HTML, replyMarkup(msg.Markup))
	}
	return nil
}

func replyMarkup(m bus.Markup) any {
	switch m.Kind {
	case bus.MarkupReply:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(m.Rows))
		for _, r := range m.Rows {
			row := make([]tgbotapi.KeyboardButton, 0, len(r))
			for _, b := range r {
				row = append(row, tgbotapi.NewKeyboardButton(b.Text))
			}
			rows = append(rows, row)
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.ResizeKeyboard = true
		return kb
	case bus.MarkupInline:
		return *inlineMarkup(m)
	case bus.MarkupRemove:
		return tgbotapi.NewRemoveKeyboard(true)
	}
	return nil
}

func inlineMarkup(m bus.Markup) *tgbotapi.InlineKeyboardMarkup {
	if m.Kind != bus.MarkupInline {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(m.Rows))
	for _, r := range m.Rows {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			data := b.Data
			if data == "" {
				data = b.Text
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, data))
		}
		rows = append(rows, row)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// splitMessage cuts s into chunks of at most maxLen bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitMessage(s string, maxLen int) []string {
	if s == "" {
		return []string{""}
	}
	var chunks []string
	for len(s) > 0 {
		if len(s) <= maxLen {
			chunks = append(chunks, s)
			break
		}
		cut := strings.LastIndex(s[:maxLen], "\n")
		if cut <= 0 {
			cut = maxLen
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	return chunks
}

// stripHTML removes tags and unescapes entities for a plain-text resend.
func stripHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return html.UnescapeString(b.String())
}
