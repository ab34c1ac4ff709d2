package flows

import (
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/bus"
)

// Button captions. Incoming text equal to one of these is decoded into its
// action rather than treated as free input.
const (
	BtnBrowse      = "📋 Сборки Warzone"
	BtnAdd         = "➕ Добавить сборку"
	BtnHome        = "🏠 Главное меню"
	BtnBack        = "⬅ Назад"
	BtnPrev        = "⬅ Предыдущая"
	BtnNext        = "➡ Следующая"
	BtnPagePrev    = "← Назад"
	BtnPageNext    = "Вперёд →"
	BtnCategories  = "🏠 Категории"
	BtnFinish      = "Завершить"
	BtnCancel      = "Отмена"
	BtnAddAnother  = "➕ Добавить ещё одну сборку"
	BtnAddExit     = "◀ Отмена"
	BtnExitDelete  = "🚪 Выйти из удаления"
	BtnConfirmYes  = "Да"
	BtnConfirmNo   = "Нет"
	BtnOpenShowAll = "📦 Все сборки"
)

// Kind tags a decoded user interaction.
type Kind int

const (
	// KindText is free input or a data-derived option button.
	KindText Kind = iota
	KindCommand
	KindCallback
	KindMedia
	KindHome
	KindBrowse
	KindAdd
	KindBack
	KindPrev
	KindNext
	KindPagePrev
	KindPageNext
	KindCategories
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCommand:
		return "command"
	case KindCallback:
		return "callback"
	case KindMedia:
		return "media"
	case KindHome:
		return "home"
	case KindBrowse:
		return "browse"
	case KindAdd:
		return "add"
	case KindBack:
		return "back"
	case KindPrev:
		return "prev"
	case KindNext:
		return "next"
	case KindPagePrev:
		return "page_prev"
	case KindPageNext:
		return "page_next"
	case KindCategories:
		return "categories"
	}
	return "unknown"
}

// Action is one user interaction, decoded once before dispatch.
type Action struct {
	Kind Kind
	// Value is the command name, callback data or text.
	Value string
	Media []bus.Media
	// MessageID is the message an inline button belongs to.
	MessageID int
}

var buttonKinds = map[string]Kind{
	BtnHome:       KindHome,
	BtnBrowse:     KindBrowse,
	BtnAdd:        KindAdd,
	BtnBack:       KindBack,
	BtnPrev:       KindPrev,
	BtnNext:       KindNext,
	BtnPagePrev:   KindPagePrev,
	BtnPageNext:   KindPageNext,
	BtnCategories: KindCategories,
}

// Decode turns an inbound message into an Action.
func Decode(msg bus.InboundMessage) Action {
	switch {
	case msg.Callback != nil:
		return Action{Kind: KindCallback, Value: msg.Callback.Data, MessageID: msg.Callback.MessageID}
	case msg.Command != "":
		return Action{Kind: KindCommand, Value: strings.ToLower(msg.Command)}
	case len(msg.Media) > 0:
		return Action{Kind: KindMedia, Value: msg.Content, Media: msg.Media}
	}

	text := strings.TrimSpace(msg.Content)
	if k, ok := buttonKinds[text]; ok {
		return Action{Kind: k, Value: text}
	}
	return Action{Kind: KindText, Value: text}
}
