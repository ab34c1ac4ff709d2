package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"github.com/stellarlinkco/ndsborki/internal/gateway"
	"github.com/stellarlinkco/ndsborki/internal/logging"
	"github.com/stellarlinkco/ndsborki/internal/refdata"
	"github.com/stellarlinkco/ndsborki/internal/store"
	"go.uber.org/zap"
)

var errNoToken = errors.New("Telegram token not set. Run 'ndsborki onboard' and edit the config, or set NDSBORKI_TELEGRAM_TOKEN / BOT_TOKEN")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ndsborki",
		Short:         "ndsborki - Telegram bot with a catalog of Warzone weapon builds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Run the bot (Telegram channel + maintenance jobs)",
		RunE:    runServe,
	}

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config and reference data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(cmd.OutOrStdout())
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and catalog status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout())
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check-files",
		Short: "Report which module reference files are present",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runCheckFiles(cfg, cmd.OutOrStdout())
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runList(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	var migrateTo string
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every build from the configured backend into another one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runMigrate(cmd.Context(), cfg, migrateTo, cmd.OutOrStdout())
		},
	}
	migrateCmd.Flags().StringVar(&migrateTo, "to", config.StoreBackendSQLite, "target backend: json or sqlite")

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON snapshot of the catalog now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runBackup(cmd.Context(), cfg, time.Now(), cmd.OutOrStdout())
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <file.json>",
		Short: "Write every build to a new JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runExport(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Append the builds of a JSON file to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runImport(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	}

	root.AddCommand(serveCmd, onboardCmd, statusCmd, checkCmd, listCmd, migrateCmd, backupCmd, exportCmd, importCmd)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errNoToken
	}

	logger, err := logging.New(cfg.Log.Level, cfg.LogDir())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		logger.Error("create gateway failed", zap.Error(err))
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func runOnboard(w io.Writer) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(w, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(w, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, dir := range []string{cfg.Store.DataDir, cfg.ImagesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	types, err := json.MarshalIndent(refdata.DefaultTypes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal weapon types: %w", err)
	}
	writeIfNotExists(w, filepath.Join(cfg.Store.DataDir, config.DefaultTypesFileName), string(types))
	if cfg.Store.Backend == config.StoreBackendJSON {
		writeIfNotExists(w, cfg.BuildsPath(), "[]")
	}

	fmt.Fprintf(w, "Data dir ready: %s\n", cfg.Store.DataDir)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Edit %s to set the bot token and admin IDs\n", cfgPath)
	fmt.Fprintf(w, "  2. Put the modules-*.json files into %s\n", cfg.Store.DataDir)
	fmt.Fprintln(w, "  3. Run 'ndsborki serve'")
	return nil
}

func runStatus(ctx context.Context, w io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(w, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(w, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(w, "Token: %s\n", maskToken(cfg.Telegram.Token))
	fmt.Fprintf(w, "Admins: %v\n", cfg.Telegram.Admins)
	fmt.Fprintf(w, "Mode: %s, page size %d\n", cfg.Browse.Mode, cfg.Browse.PageSize)
	fmt.Fprintf(w, "Backup: enabled=%v schedule=%q keep=%d\n", cfg.Backup.Enabled, cfg.Backup.Schedule, cfg.Backup.Keep)

	st, err := store.Open(cfg, nil)
	if err != nil {
		fmt.Fprintf(w, "Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	stats, err := store.CollectStats(ctx, st)
	if err != nil {
		fmt.Fprintf(w, "Store: %s (error: %v)\n", st.Location(), err)
		return nil
	}
	fmt.Fprintf(w, "Store: %s (%s, %s)\n", st.Location(), cfg.Store.Backend, humanize.Bytes(uint64(stats.SizeBytes)))
	fmt.Fprintf(w, "Builds: %d\n", stats.Total)
	for _, c := range stats.ByCategory {
		fmt.Fprintf(w, "  %s: %d\n", c.Key, c.N)
	}

	missing := 0
	for _, f := range refdata.NewRegistry(cfg.Store.DataDir, nil).CheckFiles() {
		if !f.Exists {
			missing++
		}
	}
	fmt.Fprintf(w, "Module files missing: %d\n", missing)
	return nil
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "not set"
	case len(token) > 8:
		return token[:4] + "..." + token[len(token)-4:]
	default:
		return "set"
	}
}

func runCheckFiles(cfg *config.Config, w io.Writer) error {
	fmt.Fprintf(w, "Checking %s\n", cfg.Store.DataDir)
	missing := 0
	for _, f := range refdata.NewRegistry(cfg.Store.DataDir, nil).CheckFiles() {
		state := "ok"
		if !f.Exists {
			state = "MISSING"
			missing++
		}
		fmt.Fprintf(w, "  %-8s %-26s %s\n", f.TypeKey, f.File, state)
	}
	if missing > 0 {
		return fmt.Errorf("%d module files missing", missing)
	}
	return nil
}

func runList(ctx context.Context, cfg *config.Config, w io.Writer) error {
	st, err := store.Open(cfg, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	builds, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("list builds: %w", err)
	}
	if len(builds) == 0 {
		fmt.Fprintln(w, "No builds stored.")
		return nil
	}
	refs := refdata.NewRegistry(cfg.Store.DataDir, nil)
	for _, b := range builds {
		fmt.Fprintf(w, "%s  %-20s %-12s %-22s %d modules  by %s\n",
			b.ID, b.WeaponName, b.Category.Label(), refs.TypeLabel(b.Type), b.ModuleCount(), b.Author)
	}
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, to string, w io.Writer) error {
	if to == cfg.Store.Backend {
		return fmt.Errorf("store already uses the %s backend", to)
	}
	src, err := store.Open(cfg, nil)
	if err != nil {
		return fmt.Errorf("open source store: %w", err)
	}
	defer src.Close()

	dstCfg := *cfg
	dstCfg.Store.Backend = to
	dst, err := store.Open(&dstCfg, nil)
	if err != nil {
		return fmt.Errorf("open target store: %w", err)
	}
	defer dst.Close()

	existing, err := dst.List(ctx)
	if err != nil {
		return fmt.Errorf("list target store: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("target store %s is not empty (%d builds)", dst.Location(), len(existing))
	}

	n, _, err := store.Copy(ctx, src, dst)
	if err != nil {
		return fmt.Errorf("copied %d builds before failing: %w", n, err)
	}
	fmt.Fprintf(w, "Copied %d builds from %s to %s\n", n, src.Location(), dst.Location())
	fmt.Fprintf(w, "Set store.backend to %q in %s to use it.\n", to, config.ConfigPath())
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, path string, w io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	src, err := store.Open(cfg, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer src.Close()

	n, _, err := store.Copy(ctx, src, store.NewJSONStore(path, cfg.Browse.Mode, nil))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(w, "Exported %d builds to %s\n", n, path)
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, path string, w io.Writer) error {
	builds, err := store.ReadJSONFile(path, cfg.Browse.Mode)
	if err != nil {
		return fmt.Errorf("import source: %w", err)
	}
	dst, err := store.Open(cfg, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer dst.Close()

	n, skipped, err := store.AppendAll(ctx, dst, builds)
	if err != nil {
		return fmt.Errorf("imported %d builds before failing: %w", n, err)
	}
	fmt.Fprintf(w, "Imported %d builds into %s\n", n, dst.Location())
	if skipped > 0 {
		fmt.Fprintf(w, "Skipped %d builds already present\n", skipped)
	}
	return nil
}

func runBackup(ctx context.Context, cfg *config.Config, now time.Time, w io.Writer) error {
	st, err := store.Open(cfg, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	path, err := store.Backup(ctx, st, cfg.BackupDir(), cfg.Backup.Keep, now)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Fprintf(w, "Backup written: %s\n", path)
	return nil
}

func writeIfNotExists(w io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			fmt.Fprintf(w, "  Failed: %s (%v)\n", path, err)
			return
		}
		fmt.Fprintf(w, "  Created: %s\n", path)
	}
}
