package flows

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stellarlinkco/ndsborki/internal/session"
)

func sevenMeta() []catalog.Build {
	var builds []catalog.Build
	for i := 1; i <= 7; i++ {
		builds = append(builds, build(fmt.Sprintf("W%d", i), catalog.CategoryMeta, 5))
	}
	return builds
}

func TestShowAll_EmptyStore(t *testing.T) {
	h := newHarness(t)
	containsAll(t, last(t, h.command(userID, "show_all")).Content, "База сборок пуста")
	if _, ok := h.sessions.Get(userID); ok {
		t.Error("no session expected")
	}
}

func TestShowAll_Pagination(t *testing.T) {
	h := newHarness(t, sevenMeta()...)

	menu := last(t, h.command(userID, "show_all"))
	containsAll(t, menu.Content, "Все сборки по категориям")
	data := findData(t, menu.Markup, "📈 Мета (7)")
	if data != "sa:cat:0:meta" {
		t.Errorf("category data = %q", data)
	}

	out := h.callback(userID, data, 10)
	if len(out) != 1 || out[0].EditMessageID != 10 || !out[0].HTML {
		t.Fatalf("page 1 should edit message 10, got %+v", out)
	}
	page := out[0]
	containsAll(t, page.Content, "Сборки «Мета» (7)", "<b>1. W1</b>", "<b>5. W5</b>", "Страница 1 из 2")
	if strings.Contains(page.Content, "W6") {
		t.Error("page 1 should hold five builds")
	}
	if diff := cmp.Diff([]string{BtnPageNext, BtnCategories}, page.Markup.Texts()); diff != "" {
		t.Errorf("page 1 buttons (-want +got):\n%s", diff)
	}

	out = h.callback(userID, findData(t, page.Markup, BtnPageNext), 10)
	page = out[0]
	containsAll(t, page.Content, "<b>6. W6</b>", "<b>7. W7</b>", "Страница 2 из 2")
	if strings.Contains(page.Content, "W5") {
		t.Error("page 2 should start at the sixth build")
	}
	if diff := cmp.Diff([]string{BtnPagePrev, BtnCategories}, page.Markup.Texts()); diff != "" {
		t.Errorf("page 2 buttons (-want +got):\n%s", diff)
	}

	home := h.callback(userID, findData(t, page.Markup, BtnCategories), 10)
	if home[0].EditMessageID != 10 || !strings.Contains(home[0].Content, "по категориям") {
		t.Errorf("categories reply = %+v", home[0])
	}
}

func TestShowAll_SinglePageHasNoNavigation(t *testing.T) {
	h := newHarness(t, build("AK-74", catalog.CategoryNew, 5))
	page := h.callback(userID, showAllData(catalog.CategoryNew, 0), 3)[0]
	if strings.Contains(page.Content, "Страница") {
		t.Errorf("single page shows a counter: %q", page.Content)
	}
	if diff := cmp.Diff([]string{BtnCategories}, page.Markup.Texts()); diff != "" {
		t.Errorf("buttons (-want +got):\n%s", diff)
	}
}

func TestShowAll_PageOutOfRangeClamps(t *testing.T) {
	h := newHarness(t, sevenMeta()...)
	containsAll(t, h.callback(userID, "sa:cat:9:meta", 10)[0].Content, "Страница 2 из 2")
	containsAll(t, h.callback(userID, "sa:cat:-3:meta", 10)[0].Content, "Страница 1 из 2")
}

func TestShowAll_IgnoresBrowseMode(t *testing.T) {
	other := build("Kilo", catalog.CategoryMeta, 5)
	other.Mode = "Blackout"
	h := newHarness(t, build("AK-74", catalog.CategoryMeta, 5), other)

	menu := last(t, h.command(userID, "show_all"))
	page := h.callback(userID, findData(t, menu.Markup, "📈 Мета (2)"), 1)[0]
	containsAll(t, page.Content, "AK-74", "Kilo")
}

func TestShowAll_ReplyKeyboardNavigation(t *testing.T) {
	h := newHarness(t, sevenMeta()...)
	h.callback(userID, showAllData(catalog.CategoryMeta, 0), 10)

	out := last(t, h.text(userID, BtnPageNext))
	if out.EditMessageID != 0 {
		t.Error("text navigation should send a new message")
	}
	containsAll(t, out.Content, "Страница 2 из 2")
	containsAll(t, last(t, h.text(userID, BtnPagePrev)).Content, "Страница 1 из 2")
	containsAll(t, last(t, h.text(userID, BtnCategories)).Content, "по категориям")
}

func TestShowAll_EmptiedCategory(t *testing.T) {
	h := newHarness(t, build("AK-74", catalog.CategoryMeta, 5))
	out := h.callback(userID, showAllData(catalog.CategoryNew, 0), 4)
	containsAll(t, out[0].Content, "больше нет сборок")
	containsAll(t, last(t, out).Content, "по категориям")
}

func TestShowAll_StaleCallbackData(t *testing.T) {
	h := newHarness(t, build("AK-74", catalog.CategoryMeta, 5))
	containsAll(t, last(t, h.callback(userID, "sa:bogus", 4)).Content, "устарело")
}

func TestShowAll_CallbackKeepsOtherFlow(t *testing.T) {
	h := newHarness(t, sevenMeta()...)
	h.command(adminID, "add")

	h.callback(adminID, showAllData(catalog.CategoryMeta, 1), 10)
	s, ok := h.sessions.Get(adminID)
	if !ok || s.Flow != session.FlowAdd {
		t.Errorf("add session should survive a show-all press, got %+v", s)
	}
}

func TestParseShowAllData(t *testing.T) {
	c, page, ok := parseShowAllData(showAllData(catalog.CategoryTopMeta, 3))
	if !ok || c != catalog.CategoryTopMeta || page != 3 {
		t.Errorf("round trip = %q, %d, %v", c, page, ok)
	}
	for _, bad := range []string{"sa:home", "sa:cat:x:meta", "sa:cat:1"} {
		if _, _, ok := parseShowAllData(bad); ok {
			t.Errorf("parseShowAllData(%q) should fail", bad)
		}
	}
}
