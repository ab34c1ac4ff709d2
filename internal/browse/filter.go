// Package browse implements the catalog browser: a filter chain that narrows
// builds by category, weapon type, weapon name and module count, a pager for
// list views and a clamping cursor for detail views.
package browse

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ErrNotCandidate is returned when a selection is not among the offered options.
var ErrNotCandidate = errors.New("value is not among the current options")

// Dimension is one step of the filter chain.
type Dimension int

const (
	DimCategory Dimension = iota
	DimType
	DimWeapon
	DimModuleCount
	// DimDone means every dimension is selected.
	DimDone
)

func (d Dimension) String() string {
	switch d {
	case DimCategory:
		return "category"
	case DimType:
		return "type"
	case DimWeapon:
		return "weapon"
	case DimModuleCount:
		return "module_count"
	case DimDone:
		return "done"
	}
	return "dimension(" + strconv.Itoa(int(d)) + ")"
}

// Filter is the accumulated selection. Only the first Depth dimensions apply.
type Filter struct {
	Mode        string
	Category    catalog.Category
	Type        string
	Weapon      string
	ModuleCount int
	Depth       Dimension
}

// NewFilter starts a chain restricted to builds of the given mode. An empty
// mode matches every build.
func NewFilter(mode string) Filter {
	return Filter{Mode: mode}
}

// Next returns the dimension to select next.
func (f Filter) Next() Dimension {
	return f.Depth
}

// Match reports whether b satisfies every selected dimension.
func (f Filter) Match(b catalog.Build) bool {
	if f.Mode != "" && !strings.EqualFold(strings.TrimSpace(b.Mode), f.Mode) {
		return false
	}
	if f.Depth > DimCategory && b.Category != f.Category {
		return false
	}
	if f.Depth > DimType && b.Type != f.Type {
		return false
	}
	if f.Depth > DimWeapon && b.WeaponName != f.Weapon {
		return false
	}
	if f.Depth > DimModuleCount && b.ModuleCount() != f.ModuleCount {
		return false
	}
	return true
}

// Apply returns the builds matching f, keeping store order.
func Apply(builds []catalog.Build, f Filter) []catalog.Build {
	out := make([]catalog.Build, 0, len(builds))
	for _, b := range builds {
		if f.Match(b) {
			out = append(out, b)
		}
	}
	return out
}

// With selects value for the next dimension. The value must be one of the
// current candidates; otherwise ErrNotCandidate is returned and f is unchanged.
func (f Filter) With(builds []catalog.Build, labels Labeler, value string) (Filter, error) {
	if f.Depth >= DimDone {
		return f, fmt.Errorf("filter already complete")
	}
	opt, ok := FindOption(Candidates(builds, f, labels), value)
	if !ok {
		return f, ErrNotCandidate
	}

	switch f.Depth {
	case DimCategory:
		f.Category = catalog.Category(opt.Value)
	case DimType:
		f.Type = opt.Value
	case DimWeapon:
		f.Weapon = opt.Value
	case DimModuleCount:
		n, err := strconv.Atoi(opt.Value)
		if err != nil {
			return f, ErrNotCandidate
		}
		f.ModuleCount = n
	}
	f.Depth++
	return f, nil
}

// Back drops the most recent selection.
func (f Filter) Back() Filter {
	if f.Depth == DimCategory {
		return f
	}
	f.Depth--
	switch f.Depth {
	case DimCategory:
		f.Category = ""
	case DimType:
		f.Type = ""
	case DimWeapon:
		f.Weapon = ""
	case DimModuleCount:
		f.ModuleCount = 0
	}
	return f
}

// Reset clears every selection but keeps the mode.
func (f Filter) Reset() Filter {
	return NewFilter(f.Mode)
}

// Option is one selectable value of a dimension.
type Option struct {
	Value string
	Label string
	Count int
}

// Text is the button caption for the option, e.g. "AK-74 (3)".
func (o Option) Text() string {
	return fmt.Sprintf("%s (%d)", o.Label, o.Count)
}

// Labeler translates weapon-type keys into display labels.
type Labeler interface {
	TypeLabel(key string) string
}

// Candidates returns the distinct values of f.Next() among builds matching f,
// so every offered option leads to a non-empty result.
func Candidates(builds []catalog.Build, f Filter, labels Labeler) []Option {
	dim := f.Next()
	if dim >= DimDone {
		return nil
	}

	counts := make(map[string]int)
	var order []string
	for _, b := range Apply(builds, f) {
		v := valueOf(b, dim)
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	opts := make([]Option, 0, len(order))
	for _, v := range order {
		opts = append(opts, Option{Value: v, Label: labelOf(dim, v, labels), Count: counts[v]})
	}
	sortOptions(dim, opts)
	return opts
}

// FindOption matches input against an option's value, label or button text.
func FindOption(opts []Option, input string) (Option, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Option{}, false
	}
	for _, o := range opts {
		if input == o.Value || input == o.Label || input == o.Text() {
			return o, true
		}
	}
	return Option{}, false
}

func valueOf(b catalog.Build, dim Dimension) string {
	switch dim {
	case DimCategory:
		return string(b.Category)
	case DimType:
		return b.Type
	case DimWeapon:
		return b.WeaponName
	case DimModuleCount:
		return strconv.Itoa(b.ModuleCount())
	}
	return ""
}

func labelOf(dim Dimension, value string, labels Labeler) string {
	switch dim {
	case DimCategory:
		c := catalog.Category(value)
		if e := c.Emoji(); e != "" {
			return e + " " + c.Label()
		}
		return c.Label()
	case DimType:
		if labels != nil {
			return labels.TypeLabel(value)
		}
	}
	return value
}

func categoryRank(value string) int {
	for i, c := range catalog.Categories {
		if string(c) == value {
			return i
		}
	}
	return len(catalog.Categories)
}

func sortOptions(dim Dimension, opts []Option) {
	switch dim {
	case DimCategory:
		sort.SliceStable(opts, func(i, j int) bool {
			ri, rj := categoryRank(opts[i].Value), categoryRank(opts[j].Value)
			if ri != rj {
				return ri < rj
			}
			return opts[i].Value < opts[j].Value
		})
	case DimModuleCount:
		sort.SliceStable(opts, func(i, j int) bool {
			a, _ := strconv.Atoi(opts[i].Value)
			b, _ := strconv.Atoi(opts[j].Value)
			return a < b
		})
	default:
		col := collate.New(language.Russian, collate.IgnoreCase, collate.Numeric)
		sort.SliceStable(opts, func(i, j int) bool {
			return col.CompareString(opts[i].Label, opts[j].Label) < 0
		})
	}
}
