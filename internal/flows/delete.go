package flows

import (
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/session"
	"github.com/stellarlinkco/ndsborki/internal/store"
	"go.uber.org/zap"
)

const (
	cbDeleteYes  = "del:yes:"
	cbDeleteNo   = "del:no"
	cbDeleteExit = "del:exit"
)

// deleteYesData ties a confirmation button to the listed number it asked about.
func deleteYesData(n int) string { return cbDeleteYes + strconv.Itoa(n) }

// deleteState numbers the builds as listed; pending is the 1-based number
// awaiting confirmation, or 0.
type deleteState struct {
	entries []catalog.Build
	pending int
}

const deleteExitText = "🚫 Вы вышли из режима удаления."

func (r *Router) deleteStart(q *request) {
	r.endSession(q)
	r.deleteList(q)
}

// deleteList shows the numbered list and (re)starts the delete session.
func (r *Router) deleteList(q *request) {
	builds, err := r.builds(q.ctx)
	if err != nil {
		r.failed(q, "delete", err)
		return
	}
	if len(builds) == 0 {
		r.deps.Sessions.End(q.msg.ChatID)
		q.text("❌ Нет сборок для удаления.", r.mainMenu(q.admin))
		return
	}

	st := &deleteState{entries: builds}
	r.deps.Sessions.Start(q.msg.ChatID, q.msg.SenderID, session.FlowDelete, st)

	parts := make([]string, 0, len(builds)+2)
	parts = append(parts, "🧾 <b>Сборки для удаления:</b>")
	for i, b := range builds {
		parts = append(parts, r.deleteEntry(i+1, b))
	}
	parts = append(parts, "Введите ID сборки для удаления (например: 1)")
	q.html(strings.Join(parts, "\n\n"), exitDeleteKeyboard())
}

func (r *Router) deleteEntry(n int, b catalog.Build) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b> (ID %d)\n", html.EscapeString(orDash(b.WeaponName, "—")), n)
	fmt.Fprintf(&sb, "Тип: %s\n\n", html.EscapeString(orDash(r.typeLabel(b.Type), "—")))
	fmt.Fprintf(&sb, "Модулей: %d\n", b.ModuleCount())
	for _, l := range r.moduleLines(b) {
		fmt.Fprintf(&sb, "🔸 %s: %s\n", html.EscapeString(l.Slot), html.EscapeString(l.Value))
	}
	fmt.Fprintf(&sb, "\nАвтор: %s", html.EscapeString(orDash(b.Author, "—")))
	return sb.String()
}

func exitDeleteKeyboard() bus.Markup {
	return bus.InlineKeyboard([]bus.Button{{Text: BtnExitDelete, Data: cbDeleteExit}})
}

func (r *Router) deleteStep(q *request, s *session.Session) {
	st, ok := s.State.(*deleteState)
	if !ok {
		r.failed(q, "delete", errors.New("unexpected session state"))
		return
	}

	switch q.act.Kind {
	case KindCallback:
		switch q.act.Value {
		case cbDeleteExit:
			r.deps.Sessions.End(q.msg.ChatID)
			if q.act.MessageID != 0 {
				q.edit(q.act.MessageID, deleteExitText, false, bus.Markup{})
			} else {
				q.text(deleteExitText, bus.Markup{})
			}
			q.text("🏠 Главное меню", r.mainMenu(q.admin))
		case cbDeleteNo:
			st.pending = 0
			if q.act.MessageID != 0 {
				q.edit(q.act.MessageID, "Удаление отменено.", false, bus.Markup{})
			}
			q.text("Введите ID сборки для удаления (например: 1)", exitDeleteKeyboard())
		default:
			n, err := strconv.Atoi(strings.TrimPrefix(q.act.Value, cbDeleteYes))
			if !strings.HasPrefix(q.act.Value, cbDeleteYes) || err != nil {
				q.text("⌛ Это меню устарело.", bus.Markup{})
				return
			}
			r.deleteConfirmed(q, st, n)
		}
	case KindText:
		n, err := strconv.Atoi(strings.TrimSpace(q.act.Value))
		if err != nil || n < 1 || n > len(st.entries) {
			q.text("❌ Неверный ID. Попробуйте снова.", exitDeleteKeyboard())
			return
		}
		st.pending = n
		b := st.entries[n-1]
		q.text(fmt.Sprintf("❗ Вы уверены, что хотите удалить сборку %s (ID: %d)?", orDash(b.WeaponName, "—"), n),
			bus.InlineKeyboard([]bus.Button{
				{Text: BtnConfirmYes, Data: deleteYesData(n)},
				{Text: BtnConfirmNo, Data: cbDeleteNo},
			}))
	default:
		q.text("Введите ID сборки для удаления (например: 1)", exitDeleteKeyboard())
	}
}

// deleteConfirmed removes entry n, but only while n is the pending
// confirmation. Older prompts stay inert.
func (r *Router) deleteConfirmed(q *request, st *deleteState, n int) {
	if st.pending < 1 || st.pending > len(st.entries) {
		q.text("❌ Ошибка ID. Возврат к списку.", bus.Markup{})
		r.deleteList(q)
		return
	}
	if n != st.pending {
		q.text(fmt.Sprintf("⌛ Это подтверждение устарело. Ожидается ответ по сборке с ID %d.", st.pending), bus.Markup{})
		return
	}
	target := st.entries[st.pending-1]
	st.pending = 0

	err := r.deps.Store.Delete(q.ctx, target)
	switch {
	case errors.Is(err, store.ErrNotFound):
		q.text("⚠️ Сборка уже удалена.", bus.Markup{})
	case err != nil:
		r.failed(q, "delete build", err)
		return
	default:
		r.logger.Info("build deleted",
			zap.String("id", target.ID),
			zap.String("weapon", target.WeaponName),
			zap.Int64("user_id", q.msg.SenderID),
			zap.String("username", q.msg.Username))
		if q.act.MessageID != 0 {
			q.edit(q.act.MessageID, "✅ Сборка удалена.", false, bus.Markup{})
		} else {
			q.text("✅ Сборка удалена.", bus.Markup{})
		}
		r.removeOrphanImage(q, target)
	}
	r.deleteList(q)
}

// removeOrphanImage deletes the build's image unless another build still
// points at it.
func (r *Router) removeOrphanImage(q *request, deleted catalog.Build) {
	if deleted.Image == "" {
		return
	}
	builds, err := r.builds(q.ctx)
	if err != nil {
		r.logger.Warn("skip image cleanup", zap.Error(err))
		return
	}
	for _, b := range builds {
		if b.Image == deleted.Image {
			return
		}
	}
	path := r.resolveImage(deleted.Image)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("remove image failed", zap.String("path", path), zap.Error(err))
	}
}

func (r *Router) stopDelete(q *request) {
	if s, ok := r.deps.Sessions.Get(q.msg.ChatID); ok && s.Flow == session.FlowDelete {
		r.deps.Sessions.End(q.msg.ChatID)
	}
	q.text(deleteExitText, r.mainMenu(q.admin))
}
