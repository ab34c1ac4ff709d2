// Package flows implements the bot's conversations: the main menu, the add,
// delete, view and show-all wizards, and the admin commands. A Router turns
// one inbound message into the replies to send.
package flows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"github.com/stellarlinkco/ndsborki/internal/cron"
	"github.com/stellarlinkco/ndsborki/internal/refdata"
	"github.com/stellarlinkco/ndsborki/internal/session"
	"github.com/stellarlinkco/ndsborki/internal/store"
	"go.uber.org/zap"
)

// Runner executes an external command in dir and returns its combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) (string, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Scheduler reports maintenance job state for /status.
type Scheduler interface {
	Status() []cron.JobStatus
}

type Deps struct {
	Config    *config.Config
	Store     store.Store
	Refs      *refdata.Registry
	Sessions  *session.Manager
	Scheduler Scheduler
	Logger    *zap.Logger
	// Run defaults to ExecRunner.
	Run Runner
	// Restart asks the process to shut down so the supervisor restarts it.
	Restart func()
	Now     func() time.Time
}

type Router struct {
	deps    Deps
	logger  *zap.Logger
	started time.Time
}

func NewRouter(d Deps) *Router {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Run == nil {
		d.Run = ExecRunner
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Restart == nil {
		d.Restart = func() {}
	}
	if d.Sessions == nil {
		d.Sessions = session.NewManager()
	}
	if d.Refs == nil {
		d.Refs = refdata.NewRegistry(d.Config.Store.DataDir, d.Logger)
	}
	return &Router{
		deps:    d,
		logger:  d.Logger.Named("flows"),
		started: d.Now(),
	}
}

// request collects the replies to one inbound message.
type request struct {
	ctx   context.Context
	msg   bus.InboundMessage
	act   Action
	admin bool
	out   []bus.OutboundMessage
}

func (q *request) text(content string, markup bus.Markup) {
	q.out = append(q.out, bus.OutboundMessage{
		Channel: q.msg.Channel,
		ChatID:  q.msg.ChatID,
		Content: content,
		Markup:  markup,
	})
}

func (q *request) html(content string, markup bus.Markup) {
	q.out = append(q.out, bus.OutboundMessage{
		Channel: q.msg.Channel,
		ChatID:  q.msg.ChatID,
		Content: content,
		HTML:    true,
		Markup:  markup,
	})
}

func (q *request) photo(path, caption string, markup bus.Markup) {
	q.out = append(q.out, bus.OutboundMessage{
		Channel: q.msg.Channel,
		ChatID:  q.msg.ChatID,
		Content: caption,
		HTML:    true,
		Photo:   path,
		Markup:  markup,
	})
}

// edit replaces the text and inline keyboard of an earlier bot message.
func (q *request) edit(messageID int, content string, html bool, markup bus.Markup) {
	q.out = append(q.out, bus.OutboundMessage{
		Channel:       q.msg.Channel,
		ChatID:        q.msg.ChatID,
		Content:       content,
		HTML:          html,
		Markup:        markup,
		EditMessageID: messageID,
	})
}

// Handle processes one inbound message. It never fails: every error ends up
// as a reply to the user and a log entry.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	q := &request{
		ctx:   ctx,
		msg:   msg,
		act:   Decode(msg),
		admin: r.deps.Config.IsAdmin(msg.SenderID),
	}
	r.logger.Debug("inbound",
		zap.Int64("chat_id", msg.ChatID),
		zap.Int64("user_id", msg.SenderID),
		zap.String("username", msg.Username),
		zap.Time("sent_at", msg.Timestamp),
		zap.Stringer("kind", q.act.Kind),
		zap.String("value", truncate(q.act.Value, 64)))

	r.dispatch(q)
	return q.out
}

func (r *Router) dispatch(q *request) {
	switch q.act.Kind {
	case KindCommand:
		r.command(q)
		return
	case KindHome:
		r.home(q)
		return
	case KindBrowse:
		r.viewStart(q)
		return
	case KindAdd:
		if r.requireAdmin(q) {
			r.addStart(q)
		}
		return
	case KindCallback:
		if strings.HasPrefix(q.act.Value, showAllPrefix) {
			r.showAllCallback(q)
			return
		}
	}

	s, ok := r.deps.Sessions.Get(q.msg.ChatID)
	if !ok {
		r.noSession(q)
		return
	}
	switch s.Flow {
	case session.FlowAdd:
		r.addStep(q, s)
	case session.FlowDelete:
		r.deleteStep(q, s)
	case session.FlowView:
		r.viewStep(q, s)
	case session.FlowShowAll:
		r.showAllStep(q, s)
	default:
		r.deps.Sessions.End(q.msg.ChatID)
		r.noSession(q)
	}
}

func (r *Router) command(q *request) {
	switch q.act.Value {
	case "start":
		r.start(q)
	case "help":
		r.help(q)
	case "home":
		r.home(q)
	case "cancel":
		r.cancel(q)
	case "show_all":
		r.showAllStart(q)
	case "add":
		if r.requireAdmin(q) {
			r.addStart(q)
		}
	case "delete":
		if r.requireAdmin(q) {
			r.deleteStart(q)
		}
	case "stop_delete":
		if r.requireAdmin(q) {
			r.stopDelete(q)
		}
	case "list_builds":
		if r.requireAdmin(q) {
			r.listBuilds(q)
		}
	case "status":
		if r.requireAdmin(q) {
			r.status(q)
		}
	case "log":
		if r.requireAdmin(q) {
			r.sendLog(q)
		}
	case "check_files":
		if r.requireAdmin(q) {
			r.checkFiles(q)
		}
	case "restart":
		if r.requireAdmin(q) {
			r.restart(q)
		}
	default:
		q.text("🤷 Неизвестная команда. Список команд: /help", bus.Markup{})
	}
}

func (r *Router) requireAdmin(q *request) bool {
	if q.admin {
		return true
	}
	r.logger.Info("admin command rejected", zap.Int64("user_id", q.msg.SenderID), zap.String("username", q.msg.Username), zap.String("action", q.act.Value))
	q.text("❌ У тебя нет прав для этой команды.", bus.Markup{})
	return false
}

func (r *Router) noSession(q *request) {
	switch q.act.Kind {
	case KindCallback:
		q.text("⌛ Это меню устарело. Начните заново.", r.mainMenu(q.admin))
	case KindText, KindMedia, KindBack, KindPrev, KindNext, KindPagePrev, KindPageNext:
		q.text("Выберите действие в меню 👇", r.mainMenu(q.admin))
	case KindCategories:
		r.showAllStart(q)
	}
}

// failed reports an unexpected error to the user and ends the chat's session.
func (r *Router) failed(q *request, op string, err error) {
	r.logger.Error(op+" failed", zap.Int64("chat_id", q.msg.ChatID), zap.Error(err))
	r.deps.Sessions.End(q.msg.ChatID)
	q.text("❌ Произошла ошибка. Попробуйте ещё раз позже.", r.mainMenu(q.admin))
}

// StartupMessages returns the notices sent once the bot is up: the restart
// confirmation for the chat that asked for it, and the main menu for admins
// when configured.
func (r *Router) StartupMessages(channel string) []bus.OutboundMessage {
	var out []bus.OutboundMessage
	notified := make(map[int64]bool)

	path := r.deps.Config.RestartFile()
	if data, err := os.ReadFile(path); err == nil {
		if err := os.Remove(path); err != nil {
			r.logger.Warn("remove restart marker failed", zap.String("path", path), zap.Error(err))
		}
		chatID, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			r.logger.Warn("bad restart marker", zap.String("path", path), zap.Error(err))
		} else {
			out = append(out, bus.OutboundMessage{
				Channel: channel,
				ChatID:  chatID,
				Content: "✅ Бот успешно перезапущен. Возвращаюсь в главное меню...",
				Markup:  r.mainMenu(r.deps.Config.IsAdmin(chatID)),
			})
			notified[chatID] = true
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("read restart marker failed", zap.String("path", path), zap.Error(err))
	}

	if r.deps.Config.Telegram.NotifyOnStart {
		for _, id := range r.deps.Config.Telegram.Admins {
			if notified[id] {
				continue
			}
			out = append(out, bus.OutboundMessage{
				Channel: channel,
				ChatID:  id,
				Content: "✅ Бот перезапущен. Главное меню готово.",
				Markup:  r.mainMenu(true),
			})
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func (r *Router) builds(ctx context.Context) ([]catalog.Build, error) {
	builds, err := r.deps.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	return builds, nil
}
