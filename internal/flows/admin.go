package flows

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/logging"
	"github.com/stellarlinkco/ndsborki/internal/store"
	"go.uber.org/zap"
)

const commandTimeout = 30 * time.Second

func (r *Router) run(ctx context.Context, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return r.deps.Run(ctx, dir, name, args...)
}

func (r *Router) status(q *request) {
	stats, err := store.CollectStats(q.ctx, r.deps.Store)
	if err != nil {
		r.failed(q, "status", err)
		return
	}

	service, err := r.run(q.ctx, "", "systemctl", "is-active", r.deps.Config.Admin.ServiceName)
	if service == "" && err != nil {
		service = "⚠️ " + err.Error()
	}

	lines := []string{
		fmt.Sprintf("🖥 <b>Состояние сервиса:</b> <code>%s</code>", html.EscapeString(orDash(service, "—"))),
		fmt.Sprintf("📦 <b>Всего сборок:</b> <code>%d</code>", stats.Total),
		fmt.Sprintf("💾 <b>Размер базы:</b> <code>%s</code>", humanize.Bytes(uint64(stats.SizeBytes))),
		fmt.Sprintf("⏱ <b>Аптайм:</b> <code>%s</code>", strings.TrimSpace(humanize.RelTime(r.started, r.deps.Now(), "", ""))),
		fmt.Sprintf("💬 <b>Активных диалогов:</b> <code>%d</code>", r.deps.Sessions.Len()),
	}

	if dir := r.deps.Config.Admin.RepoDir; dir != "" {
		out, err := r.run(q.ctx, dir, "git", "log", "-1", "--format=%ci", "--name-only")
		commitTime, files := "—", []string(nil)
		if err != nil {
			r.logger.Warn("read last commit failed", zap.Error(err))
		} else if parts := strings.Split(out, "\n"); len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			commitTime = strings.TrimSpace(parts[0])
			for _, f := range parts[1:] {
				if f = strings.TrimSpace(f); f != "" {
					files = append(files, f)
				}
			}
		}
		lines = append(lines, "", fmt.Sprintf("🕑 <b>Последний коммит:</b> <code>%s</code>", html.EscapeString(commitTime)))
		if len(files) > 0 {
			lines = append(lines, "📁 <b>Файлы в коммите:</b>")
			for _, f := range files {
				lines = append(lines, fmt.Sprintf("• <code>%s</code>", html.EscapeString(f)))
			}
		}
	}

	if len(stats.ByAuthor) > 0 {
		lines = append(lines, "", "👥 <b>Авторы:</b>")
		for _, c := range stats.ByAuthor {
			lines = append(lines, fmt.Sprintf("• <b>%s</b> — <code>%d</code>", html.EscapeString(c.Key), c.N))
		}
	}
	if len(stats.ByCategory) > 0 {
		lines = append(lines, "", "📂 <b>Категории сборок:</b>")
		for _, c := range stats.ByCategory {
			lines = append(lines, fmt.Sprintf("• <b>%s</b> — <code>%d</code>", html.EscapeString(catalog.Category(c.Key).Label()), c.N))
		}
	}

	if r.deps.Scheduler != nil {
		if jobs := r.deps.Scheduler.Status(); len(jobs) > 0 {
			lines = append(lines, "", "⏰ <b>Задачи:</b>")
			for _, j := range jobs {
				line := fmt.Sprintf("• <code>%s</code>", html.EscapeString(j.Name))
				if !j.Next.IsZero() {
					line += " — следующий запуск " + j.Next.Format("02.01 15:04:05")
				}
				if j.State.LastStatus != "" {
					line += fmt.Sprintf(" (последний: %s)", html.EscapeString(j.State.LastStatus))
				}
				lines = append(lines, line)
			}
		}
	}

	q.html(strings.Join(lines, "\n"), bus.Markup{})
}

func (r *Router) sendLog(q *request) {
	n := r.deps.Config.Log.TailLines
	logs, err := logging.TailDir(r.deps.Config.LogDir(), n)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("read log failed", zap.Error(err))
	}
	if err != nil || len(logs) == 0 {
		q.text("⚠️ Логи пусты или недоступны.", bus.Markup{})
		return
	}

	target := r.deps.Config.Telegram.AdminChatID
	if target == 0 {
		target = q.msg.ChatID
	}
	q.out = append(q.out, bus.OutboundMessage{
		Channel: q.msg.Channel,
		ChatID:  target,
		Content: fmt.Sprintf("📄 <b>Последние %d строк лога:</b>\n<pre>%s</pre>", len(logs), html.EscapeString(strings.Join(logs, "\n"))),
		HTML:    true,
	})
	if target != q.msg.ChatID {
		q.text("📤 Логи отправлены в админский канал.", bus.Markup{})
	}
}

func (r *Router) checkFiles(q *request) {
	lines := []string{fmt.Sprintf("🔍 Проверка файлов в <code>%s</code>:", html.EscapeString(r.deps.Refs.Dir()))}
	for _, f := range r.deps.Refs.CheckFiles() {
		icon, state := "✅", "найден"
		if !f.Exists {
			icon, state = "❌", "отсутствует"
		}
		lines = append(lines, fmt.Sprintf("%s %s: <code>%s</code> — %s", icon, f.TypeKey, f.File, state))
	}
	q.html(strings.Join(lines, "\n"), bus.Markup{})
}

func (r *Router) restart(q *request) {
	r.endSession(q)
	q.text("🔄 Перезапуск бота…", r.mainMenu(q.admin))

	if dir := r.deps.Config.Admin.RepoDir; dir != "" {
		out, err := r.run(q.ctx, dir, "git", "pull", "origin", "main")
		if err != nil {
			msg := out
			if msg == "" {
				msg = err.Error()
			}
			r.logger.Error("git pull failed", zap.Error(err), zap.String("output", out))
			q.html("❌ Ошибка при обновлении кода:\n<pre>"+html.EscapeString(msg)+"</pre>", r.mainMenu(q.admin))
			return
		}
	}

	path := r.deps.Config.RestartFile()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.logger.Warn("create restart marker dir failed", zap.Error(err))
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(q.msg.ChatID, 10)), 0644); err != nil {
		r.logger.Warn("write restart marker failed", zap.String("path", path), zap.Error(err))
	}
	r.logger.Info("restart requested", zap.Int64("user_id", q.msg.SenderID), zap.String("username", q.msg.Username))
	r.deps.Restart()
}
