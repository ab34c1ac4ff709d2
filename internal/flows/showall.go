package flows

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/browse"
	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/session"
)

// Show-all callbacks: "sa:home" and "sa:cat:<page>:<category>".
const (
	showAllPrefix = "sa:"
	cbShowAllHome = "sa:home"
	cbShowAllCat  = "sa:cat:"
)

// showAllState remembers the open page for reply-keyboard navigation.
type showAllState struct {
	category catalog.Category
	page     int
}

func showAllData(c catalog.Category, page int) string {
	return cbShowAllCat + strconv.Itoa(page) + ":" + string(c)
}

func parseShowAllData(data string) (catalog.Category, int, bool) {
	rest, ok := strings.CutPrefix(data, cbShowAllCat)
	if !ok {
		return "", 0, false
	}
	p, c, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0, false
	}
	page, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, false
	}
	return catalog.Category(c), page, true
}

func (r *Router) showAllStart(q *request) {
	r.endSession(q)
	builds, err := r.builds(q.ctx)
	if err != nil {
		r.failed(q, "show all", err)
		return
	}
	text, markup := r.showAllCategories(builds)
	if len(markup.Rows) == 0 {
		q.text(text, r.mainMenu(q.admin))
		return
	}
	r.deps.Sessions.Start(q.msg.ChatID, q.msg.SenderID, session.FlowShowAll, &showAllState{})
	q.html(text, markup)
}

// showAllCategories renders the category menu over every build, whatever
// its mode.
func (r *Router) showAllCategories(builds []catalog.Build) (string, bus.Markup) {
	opts := browse.Candidates(builds, browse.NewFilter(""), r.labeler())
	if len(opts) == 0 {
		return "ℹ️ База сборок пуста.", bus.Markup{}
	}
	rows := make([][]bus.Button, 0, len(opts))
	for _, o := range opts {
		rows = append(rows, []bus.Button{{Text: o.Text(), Data: showAllData(catalog.Category(o.Value), 0)}})
	}
	return "📦 <b>Все сборки по категориям:</b>", bus.InlineKeyboard(rows...)
}

// showAllPage renders one page of a category. ok is false when the category
// has no builds any more.
func (r *Router) showAllPage(builds []catalog.Build, c catalog.Category, page int) (text string, markup bus.Markup, clamped int, ok bool) {
	var matched []catalog.Build
	for _, b := range builds {
		if b.Category == c {
			matched = append(matched, b)
		}
	}
	if len(matched) == 0 {
		return "", bus.Markup{}, 0, false
	}

	p := browse.Paginate(len(matched), r.deps.Config.Browse.PageSize, page)
	lines := []string{fmt.Sprintf("📂 <b>Сборки «%s» (%d):</b>", html.EscapeString(c.Label()), len(matched))}
	for i, b := range browse.Slice(matched, p) {
		lines = append(lines, "", r.card(p.Start+i+1, b))
	}
	if p.Total > 1 {
		lines = append(lines, "", fmt.Sprintf("Страница %d из %d", p.Number+1, p.Total))
	}

	var nav []bus.Button
	if p.HasPrev {
		nav = append(nav, bus.Button{Text: BtnPagePrev, Data: showAllData(c, p.Number-1)})
	}
	if p.HasNext {
		nav = append(nav, bus.Button{Text: BtnPageNext, Data: showAllData(c, p.Number+1)})
	}
	markup = bus.InlineKeyboard(nav, []bus.Button{{Text: BtnCategories, Data: cbShowAllHome}})
	return strings.Join(lines, "\n"), markup, p.Number, true
}

// showAllCallback handles inline presses. Pages replace the pressed message.
func (r *Router) showAllCallback(q *request) {
	builds, err := r.builds(q.ctx)
	if err != nil {
		r.failed(q, "show all", err)
		return
	}

	if q.act.Value == cbShowAllHome {
		text, markup := r.showAllCategories(builds)
		r.showAllTrack(q, "", 0)
		r.showAllReply(q, text, markup)
		return
	}

	c, page, ok := parseShowAllData(q.act.Value)
	if !ok {
		q.text("⌛ Это меню устарело.", bus.Markup{})
		return
	}
	r.showAllRender(q, builds, c, page)
}

// showAllStep handles the reply-keyboard captions while a page is open.
func (r *Router) showAllStep(q *request, s *session.Session) {
	st, ok := s.State.(*showAllState)
	if !ok {
		r.failed(q, "show all", errors.New("unexpected session state"))
		return
	}
	switch q.act.Kind {
	case KindCategories:
		r.showAllStart(q)
		return
	case KindPagePrev, KindPageNext:
		if st.category == "" {
			r.showAllStart(q)
			return
		}
		page := st.page + 1
		if q.act.Kind == KindPagePrev {
			page = st.page - 1
		}
		builds, err := r.builds(q.ctx)
		if err != nil {
			r.failed(q, "show all", err)
			return
		}
		r.showAllRender(q, builds, st.category, page)
	default:
		q.text("Выберите категорию кнопкой под сообщением.", bus.Markup{})
	}
}

func (r *Router) showAllRender(q *request, builds []catalog.Build, c catalog.Category, page int) {
	text, markup, clamped, ok := r.showAllPage(builds, c, page)
	if !ok {
		text, markup = r.showAllCategories(builds)
		q.text("⚠️ В этой категории больше нет сборок.", bus.Markup{})
		r.showAllTrack(q, "", 0)
		r.showAllReply(q, text, markup)
		return
	}
	r.showAllTrack(q, c, clamped)
	r.showAllReply(q, text, markup)
}

// showAllReply edits the pressed message when there is one.
func (r *Router) showAllReply(q *request, text string, markup bus.Markup) {
	if q.act.Kind == KindCallback && q.act.MessageID != 0 {
		q.edit(q.act.MessageID, text, true, markup)
		return
	}
	q.html(text, markup)
}

// showAllTrack records the open page unless the chat is busy in another flow.
func (r *Router) showAllTrack(q *request, c catalog.Category, page int) {
	s, ok := r.deps.Sessions.Get(q.msg.ChatID)
	switch {
	case !ok:
		r.deps.Sessions.Start(q.msg.ChatID, q.msg.SenderID, session.FlowShowAll, &showAllState{category: c, page: page})
	case s.Flow == session.FlowShowAll:
		s.State = &showAllState{category: c, page: page}
	}
}
