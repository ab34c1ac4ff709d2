package flows

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/refdata"
	"github.com/stellarlinkco/ndsborki/internal/session"
	"go.uber.org/zap"
)

// Add wizard steps, stored in Session.Step.
const (
	addWeapon = iota
	addRole
	addCategory
	addMode
	addType
	addCount
	addModule
	addVariant
	addImage
	addConfirm
	addDone
)

// moduleCounts are the slot counts a build may have.
var moduleCounts = []int{5, 8}

const variantPrefix = "var:"

type addState struct {
	build  catalog.Build
	slots  []refdata.Slot
	counts []int
	count  int
	// slot is the index in slots awaiting a variant.
	slot   int
	chosen []string
	// imagePath is the saved upload while the build is not yet stored.
	imagePath string
}

func (st *addState) isChosen(name string) bool {
	return slices.Contains(st.chosen, name)
}

func (st *addState) remaining() []string {
	var out []string
	for _, s := range st.slots {
		if !st.isChosen(s.Name) {
			out = append(out, s.Name)
		}
	}
	return out
}

func (r *Router) addStart(q *request) {
	r.endSession(q)
	st := &addState{
		build: catalog.Build{
			ID:      catalog.NewIDAt(r.deps.Now()),
			Author:  q.msg.Sender,
			Modules: map[string]string{},
		},
	}
	s := r.deps.Sessions.Start(q.msg.ChatID, q.msg.SenderID, session.FlowAdd, st)
	s.Step = addWeapon

	q.html("🛠 <b>Режим добавления сборок включён</b>\n\n"+
		"📌 Следуйте пошаговым инструкциям, чтобы добавить новую сборку.\n"+
		"Вы можете в любой момент ввести <code>/cancel</code>, чтобы выйти.", bus.Markup{})
	q.text("Введите название оружия:", bus.RemoveKeyboard())
}

func (r *Router) addStep(q *request, s *session.Session) {
	st, ok := s.State.(*addState)
	if !ok {
		r.failed(q, "add", errors.New("unexpected session state"))
		return
	}

	switch s.Step {
	case addModule, addVariant:
		r.addModuleStep(q, s, st)
		return
	case addImage:
		r.addImageStep(q, s, st)
		return
	}

	switch q.act.Kind {
	case KindMedia:
		q.text("❗ Изображение понадобится в конце. Сначала заполните поля сборки.", bus.Markup{})
		return
	case KindCallback:
		q.text("⌛ Это меню устарело.", bus.Markup{})
		return
	}
	text := strings.TrimSpace(q.act.Value)

	switch s.Step {
	case addWeapon:
		if text == "" {
			q.text("⚠️ Название не может быть пустым. Введите название оружия:", bus.Markup{})
			return
		}
		st.build.WeaponName = text
		s.Step = addRole
		q.text("Теперь введите дистанцию оружия:", bus.Markup{})

	case addRole:
		st.build.Role = text
		s.Step = addCategory
		q.text("Выберите категорию сборки:", categoryKeyboard())

	case addCategory:
		c, ok := catalog.ParseCategory(text)
		if !ok {
			q.text("❌ Пожалуйста, выберите категорию кнопкой.", categoryKeyboard())
			return
		}
		st.build.Category = c
		s.Step = addMode
		q.text("Выберите режим:", bus.ReplyKeyboard([]string{r.deps.Config.Browse.Mode}))

	case addMode:
		if text == "" {
			q.text("Выберите режим:", bus.ReplyKeyboard([]string{r.deps.Config.Browse.Mode}))
			return
		}
		st.build.Mode = text
		types := r.deps.Refs.Types()
		if len(types) == 0 {
			r.deps.Sessions.End(q.msg.ChatID)
			q.text("❌ Нет доступных типов оружия.", r.mainMenu(q.admin))
			return
		}
		s.Step = addType
		q.text("Выберите тип оружия:", r.typeKeyboard())

	case addType:
		r.addTypeStep(q, s, st, text)

	case addCount:
		n, err := strconv.Atoi(text)
		if err != nil || !slices.Contains(st.counts, n) {
			q.text("⚠️ Введите "+countsHint(st.counts)+".", countKeyboard(st.counts))
			return
		}
		st.count = n
		s.Step = addModule
		q.text("Выберите первый модуль:", bus.ReplyKeyboard(pairs(st.remaining())...))

	case addConfirm:
		switch text {
		case BtnFinish:
			r.addSave(q, s, st)
		case BtnCancel:
			r.cancel(q)
		default:
			q.text("Нажмите «Завершить» или «Отмена».", confirmKeyboard())
		}

	case addDone:
		switch text {
		case BtnAddAnother:
			r.addStart(q)
		case BtnAddExit:
			r.home(q)
		default:
			q.text("Что дальше?", doneKeyboard())
		}
	}
}

func (r *Router) addTypeStep(q *request, s *session.Session, st *addState, text string) {
	key, ok := r.deps.Refs.TypeByLabel(text)
	if !ok {
		for _, t := range r.deps.Refs.Types() {
			if t.Key == text {
				key, ok = t.Key, true
				break
			}
		}
	}
	if !ok {
		q.text("❌ Неизвестный тип оружия. Пожалуйста, выберите из списка.", r.typeKeyboard())
		return
	}

	slots, err := r.deps.Refs.Modules(key)
	if errors.Is(err, refdata.ErrNoModules) {
		r.deps.Sessions.End(q.msg.ChatID)
		q.text("❌ Для этого типа оружия модули не настроены.", r.mainMenu(q.admin))
		return
	}
	if err != nil {
		r.logger.Error("load modules failed", zap.String("type", key), zap.Error(err))
		r.deps.Sessions.End(q.msg.ChatID)
		q.text("❌ Не удалось загрузить модули.", r.mainMenu(q.admin))
		return
	}

	var counts []int
	for _, n := range moduleCounts {
		if n <= len(slots) {
			counts = append(counts, n)
		}
	}
	if len(counts) == 0 {
		r.deps.Sessions.End(q.msg.ChatID)
		q.text(fmt.Sprintf("❌ Для этого типа настроено слишком мало модулей (%d).", len(slots)), r.mainMenu(q.admin))
		return
	}

	st.build.Type = key
	st.slots = slots
	st.counts = counts
	s.Step = addCount
	q.text("Сколько модулей требуется ("+countsHint(counts)+")?", countKeyboard(counts))
}

// addModuleStep handles slot selection and the inline variant choice.
func (r *Router) addModuleStep(q *request, s *session.Session, st *addState) {
	switch q.act.Kind {
	case KindMedia:
		q.text("❗ Сначала выберите все модули, затем отправьте изображение.", bus.Markup{})
		return
	case KindCallback:
		if s.Step != addVariant {
			q.text("❌ Сначала выберите модуль.", bus.Markup{})
			return
		}
		r.addVariantPicked(q, s, st)
		return
	}

	name := strings.TrimSpace(q.act.Value)
	idx := -1
	for i, slot := range st.slots {
		if slot.Name == name && !st.isChosen(name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.text("❌ Неверный выбор. Попробуйте снова.", bus.ReplyKeyboard(pairs(st.remaining())...))
		return
	}

	st.slot = idx
	s.Step = addVariant
	rows := make([][]bus.Button, 0, len(st.slots[idx].Variants))
	for i, v := range st.slots[idx].Variants {
		rows = append(rows, []bus.Button{{
			Text: v.En,
			Data: variantPrefix + strconv.Itoa(idx) + ":" + strconv.Itoa(i),
		}})
	}
	if len(rows) == 0 {
		s.Step = addModule
		q.text("❌ Для модуля "+name+" нет вариантов. Выберите другой.", bus.ReplyKeyboard(pairs(st.remaining())...))
		return
	}
	q.text("Выберите вариант для "+name+":", bus.InlineKeyboard(rows...))
}

func (r *Router) addVariantPicked(q *request, s *session.Session, st *addState) {
	slotIdx, varIdx, ok := parseVariant(q.act.Value)
	if !ok || slotIdx != st.slot || varIdx >= len(st.slots[slotIdx].Variants) {
		q.text("❌ Этот вариант больше не актуален. Выберите вариант в последнем сообщении.", bus.Markup{})
		return
	}

	slot := st.slots[slotIdx]
	st.build.Modules[slot.Name] = slot.Variants[varIdx].En
	st.chosen = append(st.chosen, slot.Name)
	if q.act.MessageID != 0 {
		q.edit(q.act.MessageID, "", false, bus.Markup{})
	}

	if len(st.chosen) >= st.count {
		s.Step = addImage
		q.text("📷 Прикрепите изображение сборки:", bus.RemoveKeyboard())
		return
	}
	s.Step = addModule
	q.text("Выберите следующий модуль:", bus.ReplyKeyboard(pairs(st.remaining())...))
}

func parseVariant(data string) (slot, variant int, ok bool) {
	rest, found := strings.CutPrefix(data, variantPrefix)
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	slot, err1 := strconv.Atoi(a)
	variant, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || slot < 0 || variant < 0 {
		return 0, 0, false
	}
	return slot, variant, true
}

func (r *Router) addImageStep(q *request, s *session.Session, st *addState) {
	var img *bus.Media
	for i := range q.act.Media {
		m := &q.act.Media[i]
		if strings.HasPrefix(m.MimeType, "image/") && len(m.Data) > 0 {
			img = m
			break
		}
	}
	if img == nil {
		q.text("❌ Прикрепите изображение.", bus.Markup{})
		return
	}

	dir := r.deps.Config.ImagesDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.failed(q, "save image", err)
		return
	}
	name := catalog.FileStem(st.build.WeaponName) + "_" + st.build.ID + ".jpg"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, img.Data, 0644); err != nil {
		r.failed(q, "save image", err)
		return
	}
	st.imagePath = path
	st.build.Image = filepath.ToSlash(filepath.Join(filepath.Base(dir), name))
	s.Step = addConfirm
	q.text("✅ Изображение получено. Нажмите «Завершить» или «Отмена».", confirmKeyboard())
}

func (r *Router) addSave(q *request, s *session.Session, st *addState) {
	saved, err := r.deps.Store.Append(q.ctx, st.build)
	if err != nil {
		r.discardImage(st)
		r.failed(q, "append build", err)
		return
	}
	st.imagePath = ""
	s.Step = addDone
	r.logger.Info("build added",
		zap.String("id", saved.ID),
		zap.String("weapon", saved.WeaponName),
		zap.Int("modules", saved.ModuleCount()),
		zap.Int64("user_id", q.msg.SenderID),
		zap.String("username", q.msg.Username))
	q.text("✅ Сборка успешно добавлена! Что дальше?", doneKeyboard())
}

// discardImage removes an upload that never made it into the store.
func (r *Router) discardImage(st *addState) {
	if st.imagePath == "" {
		return
	}
	if err := os.Remove(st.imagePath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("remove unsaved image failed", zap.String("path", st.imagePath), zap.Error(err))
	}
	st.imagePath = ""
}

func categoryKeyboard() bus.Markup {
	rows := make([][]string, 0, len(catalog.Categories))
	for _, c := range catalog.Categories {
		rows = append(rows, []string{c.Label()})
	}
	return bus.ReplyKeyboard(rows...)
}

func (r *Router) typeKeyboard() bus.Markup {
	types := r.deps.Refs.Types()
	labels := make([]string, 0, len(types))
	for _, t := range types {
		labels = append(labels, t.Label)
	}
	return bus.ReplyKeyboard(pairs(labels)...)
}

func countKeyboard(counts []int) bus.Markup {
	rows := make([][]string, 0, len(counts))
	for _, n := range counts {
		rows = append(rows, []string{strconv.Itoa(n)})
	}
	return bus.ReplyKeyboard(rows...)
}

func countsHint(counts []int) string {
	parts := make([]string, 0, len(counts))
	for _, n := range counts {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, " или ")
}

func confirmKeyboard() bus.Markup {
	return bus.ReplyKeyboard([]string{BtnFinish}, []string{BtnCancel})
}

func doneKeyboard() bus.Markup {
	return bus.ReplyKeyboard([]string{BtnAddAnother}, []string{BtnAddExit})
}
