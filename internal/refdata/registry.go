// Package refdata loads the weapon-type list and per-type module variants
// that the bot uses to build menus and translate stored module names.
package refdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/stellarlinkco/ndsborki/internal/config"
	"go.uber.org/zap"
)

// ErrNoModules means the weapon type has no module file configured.
var ErrNoModules = errors.New("no modules configured for weapon type")

// ModuleFiles maps weapon-type keys to their module variant files.
var ModuleFiles = map[string]string{
	"assault":  "modules-assault.json",
	"battle":   "modules-battle.json",
	"smg":      "modules-pp.json",
	"shotgun":  "modules-drobovik.json",
	"marksman": "modules-pehotnay.json",
	"lmg":      "modules-pulemet.json",
	"sniper":   "modules-snayperki.json",
	"pistol":   "modules-pistolet.json",
	"special":  "modules-osoboe.json",
}

type WeaponType struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// DefaultTypes seeds types.json on first setup.
var DefaultTypes = []WeaponType{
	{Key: "assault", Label: "Штурмовые винтовки"},
	{Key: "battle", Label: "Боевые винтовки"},
	{Key: "smg", Label: "Пистолеты-пулемёты"},
	{Key: "shotgun", Label: "Дробовики"},
	{Key: "marksman", Label: "Пехотные винтовки"},
	{Key: "lmg", Label: "Пулемёты"},
	{Key: "sniper", Label: "Снайперские винтовки"},
	{Key: "pistol", Label: "Пистолеты"},
	{Key: "special", Label: "Особое"},
}

// Variant is one selectable module variant: internal name and display name.
type Variant struct {
	En string `json:"en"`
	Ru string `json:"ru"`
}

// Slot is a module slot with its variants, in file order.
type Slot struct {
	Name     string
	Variants []Variant
}

type FileStatus struct {
	TypeKey string
	File    string
	Exists  bool
}

// Registry caches reference files until Invalidate is called.
type Registry struct {
	dir    string
	logger *zap.Logger

	mu      sync.RWMutex
	types   []WeaponType
	loaded  bool
	modules map[string][]Slot
}

func NewRegistry(dir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		dir:     dir,
		logger:  logger.Named("refdata"),
		modules: make(map[string][]Slot),
	}
}

func (r *Registry) Dir() string { return r.dir }

// Invalidate drops every cached file so the next call re-reads from disk.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.types = nil
	r.loaded = false
	r.modules = make(map[string][]Slot)
	r.mu.Unlock()
	r.logger.Debug("cache invalidated")
}

// Types returns the weapon types; a missing or broken file yields none.
func (r *Registry) Types() []WeaponType {
	r.mu.RLock()
	if r.loaded {
		types := r.types
		r.mu.RUnlock()
		return types
	}
	r.mu.RUnlock()

	types, err := r.readTypes()
	if err != nil {
		r.logger.Warn("load weapon types failed", zap.Error(err))
		types = []WeaponType{}
	}

	r.mu.Lock()
	r.types = types
	r.loaded = true
	r.mu.Unlock()
	return types
}

func (r *Registry) readTypes() ([]WeaponType, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, config.DefaultTypesFileName))
	if err != nil {
		return nil, err
	}
	var types []WeaponType
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, fmt.Errorf("parse types: %w", err)
	}
	return types, nil
}

// TypeLabel returns the display label for key, or key itself when unknown.
func (r *Registry) TypeLabel(key string) string {
	for _, t := range r.Types() {
		if t.Key == key {
			return t.Label
		}
	}
	return key
}

// TypeByLabel resolves a display label back to its key.
func (r *Registry) TypeByLabel(label string) (string, bool) {
	label = strings.TrimSpace(label)
	for _, t := range r.Types() {
		if t.Label == label {
			return t.Key, true
		}
	}
	return "", false
}

// Modules returns the slots for a weapon type in file order.
func (r *Registry) Modules(typeKey string) ([]Slot, error) {
	r.mu.RLock()
	slots, ok := r.modules[typeKey]
	r.mu.RUnlock()
	if ok {
		return slots, nil
	}

	file, ok := ModuleFiles[typeKey]
	if !ok {
		return nil, ErrNoModules
	}
	f, err := os.Open(filepath.Join(r.dir, file))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	slots, err = decodeSlots(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	r.mu.Lock()
	r.modules[typeKey] = slots
	r.mu.Unlock()
	return slots, nil
}

// decodeSlots reads {"slot": [{"en":..,"ru":..}], ...} keeping key order.
func decodeSlots(rd io.Reader) ([]Slot, error) {
	dec := json.NewDecoder(rd)
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var slots []Slot
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected slot name, got %v", tok)
		}
		var variants []Variant
		if err := dec.Decode(&variants); err != nil {
			return nil, fmt.Errorf("slot %q: %w", name, err)
		}
		slots = append(slots, Slot{Name: name, Variants: variants})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return slots, nil
}

// Translate maps a stored variant name to its display name for typeKey.
// Unknown variants are returned unchanged.
func (r *Registry) Translate(typeKey, variant string) string {
	slots, err := r.Modules(typeKey)
	if err != nil {
		if !errors.Is(err, ErrNoModules) {
			r.logger.Warn("load module translations failed", zap.String("type", typeKey), zap.Error(err))
		}
		return variant
	}
	for _, s := range slots {
		for _, v := range s.Variants {
			if v.En == variant && v.Ru != "" {
				return v.Ru
			}
		}
	}
	return variant
}

// CheckFiles reports which module files exist, sorted by type key.
func (r *Registry) CheckFiles() []FileStatus {
	keys := make([]string, 0, len(ModuleFiles))
	for k := range ModuleFiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]FileStatus, 0, len(keys))
	for _, k := range keys {
		_, err := os.Stat(filepath.Join(r.dir, ModuleFiles[k]))
		out = append(out, FileStatus{TypeKey: k, File: ModuleFiles[k], Exists: err == nil})
	}
	return out
}
