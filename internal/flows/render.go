package flows

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/browse"
	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
)

func (r *Router) mainMenu(admin bool) bus.Markup {
	if admin {
		return bus.ReplyKeyboard([]string{BtnBrowse}, []string{BtnAdd})
	}
	return bus.ReplyKeyboard([]string{BtnBrowse})
}

// moduleLine is one rendered slot of a build.
type moduleLine struct {
	Slot  string
	Value string
}

// moduleLines lists b's modules in reference file order, then any slots the
// reference data no longer knows, sorted. Variants are translated.
func (r *Router) moduleLines(b catalog.Build) []moduleLine {
	lines := make([]moduleLine, 0, len(b.Modules))
	seen := make(map[string]bool, len(b.Modules))
	if slots, err := r.deps.Refs.Modules(b.Type); err == nil {
		for _, s := range slots {
			if v, ok := b.Modules[s.Name]; ok {
				lines = append(lines, moduleLine{Slot: s.Name, Value: v})
				seen[s.Name] = true
			}
		}
	}
	var rest []string
	for slot := range b.Modules {
		if !seen[slot] {
			rest = append(rest, slot)
		}
	}
	sort.Strings(rest)
	for _, slot := range rest {
		lines = append(lines, moduleLine{Slot: slot, Value: b.Modules[slot]})
	}
	for i := range lines {
		lines[i].Value = r.deps.Refs.Translate(b.Type, lines[i].Value)
	}
	return lines
}

func (r *Router) typeLabel(key string) string {
	return r.deps.Refs.TypeLabel(key)
}

func (r *Router) labeler() browse.Labeler {
	return r.deps.Refs
}

func orDash(s, dash string) string {
	if strings.TrimSpace(s) == "" {
		return dash
	}
	return s
}

// caption renders the detail view of one build as HTML.
func (r *Router) caption(b catalog.Build, pos, total int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📌 <b>Оружие:</b> %s\n", html.EscapeString(orDash(b.WeaponName, "—")))
	fmt.Fprintf(&sb, "🎯 <b>Дистанция:</b> %s\n", html.EscapeString(orDash(b.Role, "-")))
	fmt.Fprintf(&sb, "🔫 <b>Тип:</b> %s\n\n", html.EscapeString(orDash(r.typeLabel(b.Type), "—")))
	fmt.Fprintf(&sb, "🧩 <b>Модули:</b> %d\n", b.ModuleCount())
	for _, l := range r.moduleLines(b) {
		fmt.Fprintf(&sb, "├ %s: %s\n", html.EscapeString(l.Slot), html.EscapeString(l.Value))
	}
	fmt.Fprintf(&sb, "\n✍ <b>Автор:</b> %s", html.EscapeString(orDash(b.Author, "—")))
	if total > 1 {
		fmt.Fprintf(&sb, "\n\n📄 %d из %d", pos+1, total)
	}
	return sb.String()
}

// card renders the short summary used on show-all pages.
func (r *Router) card(n int, b catalog.Build) string {
	return fmt.Sprintf("<b>%d. %s</b>\n├ 📏 Дистанция: %s\n├ ⚙️ Тип: %s\n├ 🔩 Модулей: %d\n└ 👤 Автор: %s",
		n,
		html.EscapeString(orDash(b.WeaponName, "—")),
		html.EscapeString(orDash(b.Role, "-")),
		html.EscapeString(orDash(r.typeLabel(b.Type), "—")),
		b.ModuleCount(),
		html.EscapeString(orDash(b.Author, "—")))
}

// resolveImage maps a stored image path to a file path. Relative paths are
// stored as "<images dir name>/<file>" and resolve next to the images dir.
func (r *Router) resolveImage(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(r.deps.Config.ImagesDir()), filepath.FromSlash(p))
}

// imageFor returns the build's image path when the file exists right now.
func (r *Router) imageFor(b catalog.Build) string {
	p := r.resolveImage(b.Image)
	if p == "" {
		return ""
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return ""
	}
	return p
}

// optionRows lays out option buttons one per row.
func optionRows(opts []browse.Option) [][]string {
	rows := make([][]string, 0, len(opts))
	for _, o := range opts {
		rows = append(rows, []string{o.Text()})
	}
	return rows
}

// pairs lays out captions two per row.
func pairs(texts []string) [][]string {
	var rows [][]string
	for i := 0; i < len(texts); i += 2 {
		end := i + 2
		if end > len(texts) {
			end = len(texts)
		}
		rows = append(rows, texts[i:end])
	}
	return rows
}
