package flows

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/session"
)

func viewCatalog() []catalog.Build {
	mp5 := build("MP5", catalog.CategoryTopMeta, 5)
	mp5.Type = "smg"
	blackout := build("AK-74", catalog.CategoryMeta, 5)
	blackout.Mode = "Blackout"

	first := build("AK-74", catalog.CategoryMeta, 5)
	second := build("AK-74", catalog.CategoryMeta, 5)
	second.Role = "Дальняя"
	second.Author = "Other"
	return []catalog.Build{first, mp5, build("AK-74", catalog.CategoryMeta, 8), second, blackout}
}

// browseTo opens the browse menu and presses each caption in turn.
func (h *harness) browseTo(user int64, captions ...string) []bus.OutboundMessage {
	out := h.text(user, BtnBrowse)
	for _, c := range captions {
		out = h.text(user, c)
	}
	return out
}

func TestView_EmptyStore(t *testing.T) {
	h := newHarness(t)
	out := h.text(userID, BtnBrowse)
	if len(out) != 1 || !strings.Contains(out[0].Content, "Сборок пока нет") {
		t.Fatalf("got %+v", out)
	}
	if _, ok := h.sessions.Get(userID); ok {
		t.Error("empty catalog should not start a session")
	}
}

func TestView_OtherModeOnlyCountsAsEmpty(t *testing.T) {
	b := build("AK-74", catalog.CategoryMeta, 5)
	b.Mode = "Blackout"
	h := newHarness(t, b)
	containsAll(t, last(t, h.text(userID, BtnBrowse)).Content, "Сборок пока нет")
}

func TestView_FilterChainMenus(t *testing.T) {
	h := newHarness(t, viewCatalog()...)

	steps := []struct {
		input  string
		prompt string
		want   []string
	}{
		{BtnBrowse, "категорию", []string{"🔥 Топовая мета (1)", "📈 Мета (3)", BtnHome}},
		{"📈 Мета (3)", "тип оружия", []string{"Штурмовые винтовки (3)", BtnBack, BtnHome}},
		{"Штурмовые винтовки (3)", "оружие", []string{"AK-74 (3)", BtnBack, BtnHome}},
		{"AK-74 (3)", "количество модулей", []string{"5 (2)", "8 (1)", BtnBack, BtnHome}},
	}
	for _, s := range steps {
		msg := last(t, h.text(userID, s.input))
		containsAll(t, msg.Content, s.prompt)
		if diff := cmp.Diff(s.want, msg.Markup.Texts()); diff != "" {
			t.Errorf("after %q buttons mismatch (-want +got):\n%s", s.input, diff)
		}
	}

	detail := last(t, h.text(userID, "5 (2)"))
	if !detail.HTML {
		t.Error("detail should be HTML")
	}
	containsAll(t, detail.Content,
		"📌 <b>Оружие:</b> AK-74",
		"🎯 <b>Дистанция:</b> Ближняя",
		"🔫 <b>Тип:</b> Штурмовые винтовки",
		"🧩 <b>Модули:</b> 5",
		"├ Дуло: Дуло один",
		"✍ <b>Автор:</b> Tester",
		"📄 1 из 2")
	if hasButton(detail.Markup, BtnPrev) || !hasButton(detail.Markup, BtnNext) {
		t.Errorf("first record buttons = %v", detail.Markup.Texts())
	}
}

func TestView_ModuleLinesFollowReferenceOrder(t *testing.T) {
	h := newHarness(t, build("AK-74", catalog.CategoryMeta, 5))
	detail := last(t, h.browseTo(userID, "📈 Мета (1)", "Штурмовые винтовки (1)", "AK-74 (1)", "5 (1)"))

	prev := -1
	for _, slot := range assaultSlots[:5] {
		i := strings.Index(detail.Content, "├ "+slot+":")
		if i < prev {
			t.Errorf("slot %s out of order in %q", slot, detail.Content)
		}
		prev = i
	}
	if strings.Contains(detail.Content, "📄") {
		t.Error("a single match should not show a position")
	}
}

func TestView_AcceptsLabelWithoutCount(t *testing.T) {
	h := newHarness(t, viewCatalog()...)
	h.text(userID, BtnBrowse)
	containsAll(t, last(t, h.text(userID, "Мета")).Content, "тип оружия")
}

func TestView_InvalidSelectionReprompts(t *testing.T) {
	h := newHarness(t, viewCatalog()...)
	h.text(userID, BtnBrowse)

	out := h.text(userID, "🆕 Новинки (4)")
	if len(out) != 2 {
		t.Fatalf("got %d replies, want 2", len(out))
	}
	containsAll(t, out[0].Content, "выберите вариант кнопкой")
	containsAll(t, out[1].Content, "категорию")

	s, _ := h.sessions.Get(userID)
	if st := s.State.(*viewState); st.filter.Depth != 0 {
		t.Errorf("depth = %v, want unchanged", st.filter.Depth)
	}
}

func TestView_BackNavigation(t *testing.T) {
	h := newHarness(t, viewCatalog()...)
	h.browseTo(userID, "📈 Мета (3)", "Штурмовые винтовки (3)")

	containsAll(t, last(t, h.text(userID, BtnBack)).Content, "тип оружия")
	containsAll(t, last(t, h.text(userID, BtnBack)).Content, "категорию")

	out := last(t, h.text(userID, BtnBack))
	containsAll(t, out.Content, "Главное меню")
	if _, ok := h.sessions.Get(userID); ok {
		t.Error("back at the first level should leave the flow")
	}
}

func TestView_BackFromDetail(t *testing.T) {
	h := newHarness(t, viewCatalog()...)
	h.browseTo(userID, "📈 Мета (3)", "Штурмовые винтовки (3)", "AK-74 (3)", "8 (1)")

	out := last(t, h.text(userID, BtnBack))
	containsAll(t, out.Content, "количество модулей")
	if !hasButton(out.Markup, "5 (2)") {
		t.Errorf("buttons = %v", out.Markup.Texts())
	}
}

func TestView_CursorClampsAtBothEnds(t *testing.T) {
	var builds []catalog.Build
	for _, role := range []string{"Первая", "Вторая", "Третья"} {
		b := build("M4", catalog.CategoryMeta, 5)
		b.Role = role
		builds = append(builds, b)
	}
	h := newHarness(t, builds...)
	h.browseTo(userID, "📈 Мета (3)", "Штурмовые винтовки (3)", "M4 (3)", "5 (3)")

	var out []bus.OutboundMessage
	for range 3 {
		out = h.text(userID, BtnNext)
	}
	end := last(t, out)
	containsAll(t, end.Content, "📄 3 из 3", "Третья")
	if hasButton(end.Markup, BtnNext) || !hasButton(end.Markup, BtnPrev) {
		t.Errorf("last record buttons = %v", end.Markup.Texts())
	}

	back := last(t, h.text(userID, BtnPrev))
	containsAll(t, back.Content, "📄 2 из 3", "Вторая")
	if !hasButton(back.Markup, BtnNext) || !hasButton(back.Markup, BtnPrev) {
		t.Errorf("middle record buttons = %v", back.Markup.Texts())
	}

	h.text(userID, BtnPrev)
	start := last(t, h.text(userID, BtnPrev))
	containsAll(t, start.Content, "📄 1 из 3", "Первая")
}

func TestView_RenderIsIdempotent(t *testing.T) {
	h := newHarness(t, viewCatalog()...)
	h.browseTo(userID, "📈 Мета (3)", "Штурмовые винтовки (3)", "AK-74 (3)", "5 (2)")
	h.text(userID, BtnNext)

	// Next at the end does not move, so both renders show the same state.
	first := h.text(userID, BtnNext)
	second := h.text(userID, BtnNext)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-render differs (-first +second):\n%s", diff)
	}
}

func TestView_RecordsRemovedWhileBrowsing(t *testing.T) {
	h := newHarness(t, viewCatalog()...)
	h.browseTo(userID, "📈 Мета (3)", "Штурмовые винтовки (3)", "AK-74 (3)", "5 (2)")

	for _, b := range h.builds() {
		if b.Mode == "Warzone" && b.ModuleCount() == 5 && b.Type == "assault" {
			if err := h.store.Delete(context.Background(), b); err != nil {
				t.Fatal(err)
			}
		}
	}

	out := h.text(userID, BtnNext)
	containsAll(t, out[0].Content, "больше недоступна")
	menu := last(t, out)
	if !hasButton(menu.Markup, "8 (1)") || hasButton(menu.Markup, "5 (2)") {
		t.Errorf("module count menu = %v", menu.Markup.Texts())
	}
}

func TestView_EverythingRemovedEndsFlow(t *testing.T) {
	h := newHarness(t, build("AK-74", catalog.CategoryMeta, 5))
	h.browseTo(userID, "📈 Мета (1)", "Штурмовые винтовки (1)")

	for _, b := range h.builds() {
		if err := h.store.Delete(context.Background(), b); err != nil {
			t.Fatal(err)
		}
	}
	out := h.text(userID, "AK-74 (1)")
	containsAll(t, last(t, out).Content, "Сборок пока нет")
	if _, ok := h.sessions.Get(userID); ok {
		t.Error("session should end when nothing is left")
	}
}

func TestView_PhotoWhenImageExists(t *testing.T) {
	withImage := build("AK-74", catalog.CategoryMeta, 5)
	withImage.Image = "images/ak.jpg"
	missing := build("AK-74", catalog.CategoryMeta, 5)
	missing.Image = "images/gone.jpg"
	missing.Role = "Дальняя"
	h := newHarness(t, withImage, missing)

	imagePath := filepath.Join(h.root, "images", "ak.jpg")
	if err := os.MkdirAll(filepath.Dir(imagePath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(imagePath, []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	detail := last(t, h.browseTo(userID, "📈 Мета (2)", "Штурмовые винтовки (2)", "AK-74 (2)", "5 (2)"))
	if detail.Photo != imagePath {
		t.Errorf("Photo = %q, want %q", detail.Photo, imagePath)
	}

	next := last(t, h.text(userID, BtnNext))
	if next.Photo != "" {
		t.Errorf("missing image should render text only, got %q", next.Photo)
	}
	containsAll(t, next.Content, "Дальняя")
}

func TestView_BrowseButtonRestarts(t *testing.T) {
	h := newHarness(t, viewCatalog()...)
	h.browseTo(userID, "📈 Мета (3)", "Штурмовые винтовки (3)", "AK-74 (3)", "5 (2)")

	out := last(t, h.text(userID, BtnBrowse))
	containsAll(t, out.Content, "категорию")
	s, ok := h.sessions.Get(userID)
	if !ok || s.Flow != session.FlowView {
		t.Fatalf("session = %+v", s)
	}
	if st := s.State.(*viewState); st.filter.Depth != 0 {
		t.Errorf("depth = %v, want 0", st.filter.Depth)
	}
}
