package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMode            = "Warzone"
	DefaultPageSize        = 5
	DefaultBufSize         = 100
	DefaultIdleTimeout     = "30m"
	DefaultSweepSchedule   = "@every 1m"
	DefaultBackupSchedule  = "0 0 4 * * *"
	DefaultBackupKeep      = 7
	DefaultLogLevel        = "info"
	DefaultLogTailLines    = 30
	DefaultServiceName     = "ndsborki.service"
	StoreBackendJSON       = "json"
	StoreBackendSQLite     = "sqlite"
	DefaultBuildsFileName  = "builds.json"
	DefaultTypesFileName   = "types.json"
	DefaultSQLiteFileName  = "builds.db"
	DefaultRestartFileName = "restart_message.txt"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Browse   BrowseConfig   `json:"browse" yaml:"browse"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Backup   BackupConfig   `json:"backup" yaml:"backup"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Admin    AdminConfig    `json:"admin" yaml:"admin"`
}

type TelegramConfig struct {
	Token string `json:"token" yaml:"token"`
	// Admins are the user IDs allowed to add and delete builds.
	Admins      []int64 `json:"admins" yaml:"admins"`
	AdminChatID int64   `json:"adminChatId,omitempty" yaml:"adminChatId,omitempty"`
	Proxy       string  `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	// NotifyOnStart sends the main menu to every admin after startup.
	NotifyOnStart bool `json:"notifyOnStart" yaml:"notifyOnStart"`
}

type StoreConfig struct {
	Backend    string `json:"backend" yaml:"backend"` // "json" (default) or "sqlite"
	DataDir    string `json:"dataDir" yaml:"dataDir"`
	BuildsFile string `json:"buildsFile,omitempty" yaml:"buildsFile,omitempty"`
	SQLitePath string `json:"sqlitePath,omitempty" yaml:"sqlitePath,omitempty"`
	ImagesDir  string `json:"imagesDir,omitempty" yaml:"imagesDir,omitempty"`
}

type BrowseConfig struct {
	PageSize int    `json:"pageSize" yaml:"pageSize"`
	Mode     string `json:"mode" yaml:"mode"`
}

type SessionConfig struct {
	IdleTimeout   string `json:"idleTimeout" yaml:"idleTimeout"`
	SweepSchedule string `json:"sweepSchedule" yaml:"sweepSchedule"`
}

type BackupConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Schedule string `json:"schedule" yaml:"schedule"`
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Keep     int    `json:"keep" yaml:"keep"`
}

type LogConfig struct {
	Level     string `json:"level" yaml:"level"`
	Dir       string `json:"dir,omitempty" yaml:"dir,omitempty"`
	TailLines int    `json:"tailLines" yaml:"tailLines"`
}

type AdminConfig struct {
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	RepoDir     string `json:"repoDir,omitempty" yaml:"repoDir,omitempty"`
	RestartFile string `json:"restartFile,omitempty" yaml:"restartFile,omitempty"`
	// Contact is the Telegram handle shown in help texts, e.g. "@nd_admin95".
	Contact string `json:"contact,omitempty" yaml:"contact,omitempty"`
}

func DefaultConfig() *Config {
	base := ConfigDir()
	return &Config{
		Telegram: TelegramConfig{NotifyOnStart: true},
		Store: StoreConfig{
			Backend: StoreBackendJSON,
			DataDir: filepath.Join(base, "database"),
		},
		Browse: BrowseConfig{
			PageSize: DefaultPageSize,
			Mode:     DefaultMode,
		},
		Session: SessionConfig{
			IdleTimeout:   DefaultIdleTimeout,
			SweepSchedule: DefaultSweepSchedule,
		},
		Backup: BackupConfig{
			Enabled:  true,
			Schedule: DefaultBackupSchedule,
			Keep:     DefaultBackupKeep,
		},
		Log: LogConfig{
			Level:     DefaultLogLevel,
			TailLines: DefaultLogTailLines,
		},
		Admin: AdminConfig{
			ServiceName: DefaultServiceName,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("NDSBORKI_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".ndsborki")
}

func ConfigPath() string {
	if p := os.Getenv("NDSBORKI_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("NDSBORKI_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if token := os.Getenv("BOT_TOKEN"); token != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = token
	}
	if users := os.Getenv("ALLOWED_USERS"); users != "" {
		cfg.Telegram.Admins = mergeIDs(cfg.Telegram.Admins, ParseIDList(users))
	}
	if id := os.Getenv("ADMIN_ID"); id != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
			cfg.Telegram.AdminChatID = parsed
		}
	}
	if proxy := os.Getenv("NDSBORKI_PROXY"); proxy != "" {
		cfg.Telegram.Proxy = proxy
	}
	if dir := os.Getenv("NDSBORKI_DATA_DIR"); dir != "" {
		cfg.Store.DataDir = dir
	}
	if backend := os.Getenv("NDSBORKI_STORE_BACKEND"); backend != "" {
		cfg.Store.Backend = backend
	}
	if level := os.Getenv("NDSBORKI_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if size := os.Getenv("NDSBORKI_PAGE_SIZE"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil {
			cfg.Browse.PageSize = parsed
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = def.Store.DataDir
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendJSON
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Browse.PageSize <= 0 {
		cfg.Browse.PageSize = DefaultPageSize
	}
	if cfg.Browse.Mode == "" {
		cfg.Browse.Mode = DefaultMode
	}
	if cfg.Session.IdleTimeout == "" {
		cfg.Session.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Session.SweepSchedule == "" {
		cfg.Session.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Backup.Schedule == "" {
		cfg.Backup.Schedule = DefaultBackupSchedule
	}
	if cfg.Backup.Keep <= 0 {
		cfg.Backup.Keep = DefaultBackupKeep
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.TailLines <= 0 {
		cfg.Log.TailLines = DefaultLogTailLines
	}
	if cfg.Admin.ServiceName == "" {
		cfg.Admin.ServiceName = DefaultServiceName
	}
}

// Validate reports configuration values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendJSON, StoreBackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) BuildsPath() string {
	if c.Store.BuildsFile != "" {
		return c.Store.BuildsFile
	}
	return filepath.Join(c.Store.DataDir, DefaultBuildsFileName)
}

func (c *Config) SQLitePath() string {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.Store.DataDir, DefaultSQLiteFileName)
}

func (c *Config) ImagesDir() string {
	if c.Store.ImagesDir != "" {
		return c.Store.ImagesDir
	}
	return filepath.Join(filepath.Dir(c.Store.DataDir), "images")
}

func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(ConfigDir(), "data", "backups")
}

func (c *Config) LogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

func (c *Config) CronStatePath() string {
	return filepath.Join(ConfigDir(), "data", "cron_state.json")
}

func (c *Config) RestartFile() string {
	if c.Admin.RestartFile != "" {
		return c.Admin.RestartFile
	}
	return filepath.Join(ConfigDir(), DefaultRestartFileName)
}

// IsAdmin reports whether userID may run privileged flows.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// ParseIDList parses a comma separated list of numeric IDs, skipping junk.
func ParseIDList(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func mergeIDs(a, b []int64) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, id := range append(append([]int64{}, a...), b...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
