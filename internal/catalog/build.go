// Package catalog defines the build record kept in the store.
package catalog

import (
	"crypto/rand"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"
)

// Category is one of the fixed build categories.
type Category string

const (
	CategoryTopMeta Category = "top-meta"
	CategoryMeta    Category = "meta"
	CategoryNew     Category = "new"
)

// Categories lists the closed category set in display order.
var Categories = []Category{CategoryTopMeta, CategoryMeta, CategoryNew}

var categoryLabels = map[Category]string{
	CategoryTopMeta: "Топовая мета",
	CategoryMeta:    "Мета",
	CategoryNew:     "Новинки",
}

var categoryEmoji = map[Category]string{
	CategoryTopMeta: "🔥",
	CategoryMeta:    "📈",
	CategoryNew:     "🆕",
}

// Label returns the human readable category name.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// Emoji returns the category marker used on buttons.
func (c Category) Emoji() string {
	return categoryEmoji[c]
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// ParseCategory accepts a key, a label, or an emoji-prefixed label.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if s == string(c) || strings.EqualFold(s, c.Label()) || s == c.Emoji()+" "+c.Label() {
			return c, true
		}
	}
	return "", false
}

// Build is a saved weapon loadout.
type Build struct {
	ID         string            `json:"id,omitempty"`
	WeaponName string            `json:"weapon_name"`
	Role       string            `json:"role"`
	Category   Category          `json:"category"`
	Mode       string            `json:"mode"`
	Type       string            `json:"type"`
	Modules    map[string]string `json:"modules"`
	Image      string            `json:"image,omitempty"`
	Author     string            `json:"author"`
	CreatedAt  string            `json:"created_at,omitempty"`
}

// ModuleCount is the number of selected module slots.
func (b Build) ModuleCount() int {
	return len(b.Modules)
}

// Equal reports full-record equality, including the ID.
func (b Build) Equal(o Build) bool {
	return b.ID == o.ID && b.EqualContent(o)
}

// EqualContent compares every field except the ID.
func (b Build) EqualContent(o Build) bool {
	return b.WeaponName == o.WeaponName &&
		b.Role == o.Role &&
		b.Category == o.Category &&
		b.Mode == o.Mode &&
		b.Type == o.Type &&
		b.Image == o.Image &&
		b.Author == o.Author &&
		b.CreatedAt == o.CreatedAt &&
		maps.Equal(b.Modules, o.Modules)
}

// Clone returns a copy that shares no map with b.
func (b Build) Clone() Build {
	c := b
	c.Modules = maps.Clone(b.Modules)
	if c.Modules == nil {
		c.Modules = map[string]string{}
	}
	return c
}

// Normalize applies load-time defaults so render code never sees missing fields.
func Normalize(b Build, defaultMode string) Build {
	b = b.Clone()
	b.WeaponName = strings.TrimSpace(b.WeaponName)
	if c, ok := ParseCategory(string(b.Category)); ok {
		b.Category = c
	}
	if strings.TrimSpace(b.Mode) == "" {
		b.Mode = defaultMode
	}
	return b
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-ordered unique identifier.
func NewID() string {
	return NewIDAt(time.Now())
}

func NewIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// FileStem turns a weapon name into a safe file name stem.
func FileStem(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.':
			sb.WriteRune(r)
		case unicode.IsSpace(r) || r == '_':
			sb.WriteRune('_')
		}
	}
	stem := strings.Trim(sb.String(), ".")
	if stem == "" {
		return "build"
	}
	return stem
}
