package flows

import (
	"errors"

	"github.com/stellarlinkco/ndsborki/internal/browse"
	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/session"
	"go.uber.org/zap"
)

// viewState is the browse position of one chat. The matching builds are
// recomputed from the store on every action; only selections are kept.
type viewState struct {
	filter browse.Filter
	cursor browse.Cursor
}

var viewPrompts = map[browse.Dimension]string{
	browse.DimCategory:    "📁 Выберите категорию сборки:",
	browse.DimType:        "➡ Выберите тип оружия:",
	browse.DimWeapon:      "➡ Выберите оружие:",
	browse.DimModuleCount: "Выберите количество модулей:",
}

func (r *Router) viewStart(q *request) {
	r.endSession(q)
	builds, err := r.builds(q.ctx)
	if err != nil {
		r.failed(q, "view", err)
		return
	}
	st := &viewState{filter: browse.NewFilter(r.deps.Config.Browse.Mode)}
	if len(browse.Candidates(builds, st.filter, r.labeler())) == 0 {
		q.text("⚠️ Сборок пока нет. Загляните позже!", r.mainMenu(q.admin))
		return
	}
	r.deps.Sessions.Start(q.msg.ChatID, q.msg.SenderID, session.FlowView, st)
	r.viewMenu(q, st, builds)
}

func (r *Router) viewStep(q *request, s *session.Session) {
	st, ok := s.State.(*viewState)
	if !ok {
		r.failed(q, "view", errors.New("unexpected session state"))
		return
	}
	builds, err := r.builds(q.ctx)
	if err != nil {
		r.failed(q, "view", err)
		return
	}

	if st.filter.Next() == browse.DimDone {
		r.viewDetailStep(q, st, builds)
		return
	}

	switch q.act.Kind {
	case KindBack:
		if st.filter.Depth == browse.DimCategory {
			r.home(q)
			return
		}
		st.filter = st.filter.Back()
		r.viewMenu(q, st, builds)
	case KindText:
		next, err := st.filter.With(builds, r.labeler(), q.act.Value)
		if errors.Is(err, browse.ErrNotCandidate) {
			r.viewReprompt(q, st, builds)
			return
		}
		if err != nil {
			r.failed(q, "view", err)
			return
		}
		st.filter = next
		if st.filter.Next() == browse.DimDone {
			st.cursor = browse.NewCursor(len(browse.Apply(builds, st.filter)))
			r.viewDetail(q, st, builds)
			return
		}
		r.viewMenu(q, st, builds)
	default:
		r.viewReprompt(q, st, builds)
	}
}

func (r *Router) viewDetailStep(q *request, st *viewState, builds []catalog.Build) {
	switch q.act.Kind {
	case KindNext:
		st.cursor = st.cursor.Next()
	case KindPrev:
		st.cursor = st.cursor.Prev()
	case KindBack:
		st.filter = st.filter.Back()
		r.viewMenu(q, st, builds)
		return
	}
	r.viewDetail(q, st, builds)
}

// viewReprompt repeats the current menu after input outside the options.
func (r *Router) viewReprompt(q *request, st *viewState, builds []catalog.Build) {
	q.text("❌ Пожалуйста, выберите вариант кнопкой.", bus.Markup{})
	r.viewMenu(q, st, builds)
}

// viewMenu offers the candidates of the next dimension. When the data no
// longer has any, it steps back until a level has options again.
func (r *Router) viewMenu(q *request, st *viewState, builds []catalog.Build) {
	for {
		opts := browse.Candidates(builds, st.filter, r.labeler())
		if len(opts) > 0 {
			q.text(viewPrompts[st.filter.Next()], r.viewKeyboard(st.filter, opts))
			return
		}
		if st.filter.Depth == browse.DimCategory {
			r.deps.Sessions.End(q.msg.ChatID)
			q.text("⚠️ Сборок пока нет. Загляните позже!", r.mainMenu(q.admin))
			return
		}
		q.text("⚠️ Эти сборки больше недоступны.", bus.Markup{})
		st.filter = st.filter.Back()
	}
}

func (r *Router) viewKeyboard(f browse.Filter, opts []browse.Option) bus.Markup {
	var rows [][]string
	if f.Next() == browse.DimModuleCount {
		row := make([]string, 0, len(opts))
		for _, o := range opts {
			row = append(row, o.Text())
		}
		rows = append(rows, row)
	} else {
		rows = optionRows(opts)
	}
	if f.Depth > browse.DimCategory {
		rows = append(rows, []string{BtnBack})
	}
	rows = append(rows, []string{BtnHome})
	return bus.ReplyKeyboard(rows...)
}

// viewDetail renders the build under the cursor.
func (r *Router) viewDetail(q *request, st *viewState, builds []catalog.Build) {
	matched := browse.Apply(builds, st.filter)
	if len(matched) == 0 {
		q.text("⚠️ Эта сборка больше недоступна.", bus.Markup{})
		st.filter = st.filter.Back()
		r.viewMenu(q, st, builds)
		return
	}
	st.cursor = st.cursor.Resize(len(matched))
	b := matched[st.cursor.Index]

	var nav []string
	if st.cursor.HasPrev() {
		nav = append(nav, BtnPrev)
	}
	if st.cursor.HasNext() {
		nav = append(nav, BtnNext)
	}
	markup := bus.ReplyKeyboard(nav, []string{BtnBack, BtnBrowse}, []string{BtnHome})
	caption := r.caption(b, st.cursor.Index, st.cursor.Len)

	if img := r.imageFor(b); img != "" {
		q.photo(img, caption, markup)
		return
	}
	if b.Image != "" {
		r.logger.Debug("image missing, rendering text only", zap.String("id", b.ID), zap.String("image", b.Image))
	}
	q.html(caption, markup)
}
