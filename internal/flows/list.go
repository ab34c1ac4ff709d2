package flows

import (
	"fmt"
	"html"
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/bus"
)

// listChunk keeps each /list_builds message under the Telegram text limit.
const listChunk = 3500

func (r *Router) listBuilds(q *request) {
	builds, err := r.builds(q.ctx)
	if err != nil {
		r.failed(q, "list builds", err)
		return
	}
	if len(builds) == 0 {
		q.text("ℹ️ В базе пока нет ни одной сборки.", bus.Markup{})
		return
	}

	var sb strings.Builder
	sb.WriteString("📦 <b>Все сохранённые сборки:</b>\n")
	for _, b := range builds {
		line := fmt.Sprintf("\n• <b>%s</b> — %s / %s",
			html.EscapeString(orDash(b.WeaponName, "—")),
			html.EscapeString(orDash(b.Category.Label(), "?")),
			html.EscapeString(orDash(r.typeLabel(b.Type), "?")))
		if sb.Len()+len(line) > listChunk {
			q.html(sb.String(), bus.Markup{})
			sb.Reset()
			line = strings.TrimPrefix(line, "\n")
		}
		sb.WriteString(line)
	}
	q.html(sb.String(), bus.Markup{})
}
