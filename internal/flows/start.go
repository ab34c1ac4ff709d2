package flows

import (
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/session"
)

func (r *Router) start(q *request) {
	r.endSession(q)
	if q.admin {
		q.html("Добро пожаловать в NDsborki BOT\n\n🛠 Админ: используйте команду /add для добавления сборок.", r.mainMenu(true))
		return
	}

	var sb strings.Builder
	sb.WriteString("👋 <b>Добро пожаловать в NDsborki BOT!</b>\n\n")
	sb.WriteString("Здесь ты можешь:\n")
	sb.WriteString(" • Смотреть сборки оружия из Warzone\n")
	sb.WriteString(" • Выбирать тип и кол-во модулей для фильтра\n")
	sb.WriteString(" • Листать подходящие варианты с фото и автором\n\n")
	sb.WriteString("📍 Жми <b>«Сборки Warzone»</b>, чтобы начать!\n\n")
	sb.WriteString("⚠️ Добавление сборок доступно только администраторам.\n\n")
	if c := r.deps.Config.Admin.Contact; c != "" {
		sb.WriteString("💬 Если есть идеи или нашёл баг — пиши " + c + "\n\n")
	}
	sb.WriteString("🛠 Бот будет постоянно обновляться и улучшаться!!")
	q.html(sb.String(), r.mainMenu(false))
}

func (r *Router) help(q *request) {
	contact := r.deps.Config.Admin.Contact
	if contact == "" {
		contact = "администратору бота"
	}
	q.text("💬 Если у вас возникли вопросы, проблемы в работе бота или есть идеи по улучшению — не стесняйтесь, пишите прямо мне: "+
		contact+"\n\nЯ всегда на связи и стараюсь сделать бота ещё лучше для вас!", bus.Markup{})
}

func (r *Router) home(q *request) {
	r.endSession(q)
	q.text("🏠 Главное меню...", r.mainMenu(q.admin))
}

func (r *Router) cancel(q *request) {
	if _, ok := r.deps.Sessions.Get(q.msg.ChatID); !ok {
		q.text("Нечего отменять.", r.mainMenu(q.admin))
		return
	}
	r.endSession(q)
	q.text("❌ Действие отменено.", r.mainMenu(q.admin))
}

// endSession discards the chat's session, cleaning up after an unfinished add.
func (r *Router) endSession(q *request) {
	s, ok := r.deps.Sessions.Get(q.msg.ChatID)
	if !ok {
		return
	}
	if s.Flow == session.FlowAdd {
		if st, ok := s.State.(*addState); ok {
			r.discardImage(st)
		}
	}
	r.deps.Sessions.End(q.msg.ChatID)
}
