// Package cli implements the paperflow subcommands
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/api"
	"github.com/gmsas95/paperflow/internal/app"
	"github.com/gmsas95/paperflow/internal/catalog"
	"github.com/gmsas95/paperflow/internal/config"
	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/logging"
	"github.com/gmsas95/paperflow/internal/scanner"
	"github.com/gmsas95/paperflow/internal/store"
)

var Version = "dev"

// globalFlags are accepted by every subcommand
type globalFlags struct {
	configPath string
	dataDir    string
	jsonOut    bool
}

func newFlagSet(name string) (*flag.FlagSet, *globalFlags) {
	g := &globalFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&g.configPath, "config", "", "Path to config file")
	fs.StringVar(&g.dataDir, "data", "", "Path to data directory")
	fs.BoolVar(&g.jsonOut, "json", false, "Print JSON instead of text")
	return fs, g
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return config.Load(g.configPath, g.dataDir)
}

// withApp builds the application, runs fn with a signal-aware context and
// exits non-zero on error
func withApp(g *globalFlags, fn func(ctx context.Context, a *app.App) error) {
	cfg, err := loadConfig(g)
	if err != nil {
		fail("Error loading config", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fail("Error initializing logger", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, Version)
	if err != nil {
		logger.Error("Failed to start paperflow", zap.Error(err))
		fail("Error", err)
	}

	err = fn(ctx, a)
	if cerr := a.Close(); cerr != nil {
		logger.Warn("Close failed", zap.Error(cerr))
	}
	if err != nil {
		fail("Error", err)
	}
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func parse(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ==================== Scanning ====================

func HandleScanCommand(args []string) {
	fs, g := newFlagSet("scan")
	parse(fs, args)

	withApp(g, func(ctx context.Context, a *app.App) error {
		report, err := a.Service.Scan(ctx)
		if err != nil {
			return err
		}
		if g.jsonOut {
			return printJSON(report)
		}
		printReport(report)
		return nil
	})
}

func printReport(r *scanner.Report) {
	fmt.Printf("Scanned:  %d\n", r.Scanned)
	fmt.Printf("Imported: %d\n", r.Imported)
	fmt.Printf("Skipped:  %d\n", r.Skipped)
	if len(r.Errors) > 0 {
		fmt.Printf("Errors:   %d\n", len(r.Errors))
		for _, fe := range r.Errors {
			fmt.Printf("  - %s: %s\n", fe.Path, fe.Error)
		}
	}
}

// HandleWatchCommand runs the daemon. serve mode leaves the folder watcher
// off and relies on the schedule and the API.
func HandleWatchCommand(args []string, watch bool) {
	fs, g := newFlagSet("watch")
	noAPI := fs.Bool("no-api", false, "Do not start the review API")
	parse(fs, args)

	withApp(g, func(ctx context.Context, a *app.App) error {
		return a.RunDaemon(ctx, app.DaemonOptions{Watch: watch, API: !*noAPI})
	})
}

// ==================== Status ====================

func HandleStatusCommand(args []string) {
	fs, g := newFlagSet("status")
	parse(fs, args)

	withApp(g, func(ctx context.Context, a *app.App) error {
		counts, err := a.Store.CountByStatus(ctx)
		if err != nil {
			return err
		}
		provider := a.AI.Best(ctx)

		if g.jsonOut {
			return printJSON(map[string]any{
				"version":     Version,
				"ai_provider": provider,
				"documents":   counts,
			})
		}

		fmt.Println("paperflow status")
		fmt.Println("================")
		fmt.Printf("Version:     %s\n", Version)
		fmt.Printf("Watch dir:   %s\n", a.Config.Storage.WatchDir)
		fmt.Printf("Documents:   %s\n", a.Config.Storage.DocumentsDir)
		fmt.Printf("AI provider: %s\n", provider)
		if a.Config.API.Address != "" {
			fmt.Printf("Review API:  http://%s\n", a.Config.API.Address)
		}
		fmt.Println()

		statuses := make([]store.DocumentStatus, 0, len(counts))
		for s := range counts {
			statuses = append(statuses, s)
		}
		sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
		fmt.Println("Documents by status:")
		if len(statuses) == 0 {
			fmt.Println("  (none)")
		}
		for _, s := range statuses {
			fmt.Printf("  %-15s %d\n", s, counts[s])
		}
		return nil
	})
}

type check struct {
	name string
	ok   bool
	note string
}

// HandleDoctorCommand checks the external tools and backends
func HandleDoctorCommand(args []string) {
	fs, g := newFlagSet("doctor")
	parse(fs, args)

	fmt.Println("paperflow diagnostics")
	fmt.Println("=====================")
	fmt.Println()

	cfg, err := loadConfig(g)
	if err != nil {
		fmt.Printf("❌ Config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Config: loaded")

	checks := []check{
		dirCheck("Watch directory", cfg.Storage.WatchDir),
		binaryCheck("pdftotext", "text extraction falls back to the native reader"),
		binaryCheck("pdfinfo", "page counting falls back to pdfcpu"),
		binaryCheck("tesseract", "images and scanned pages get no text"),
		remoteKeyCheck(cfg),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resolver := llm.NewResolverFromConfig(cfg.AI, nil, zap.NewNop())
	provider := resolver.Best(ctx)
	checks = append(checks, check{
		name: "AI provider",
		ok:   provider != llm.ProviderNone,
		note: "no AI reachable: splitting and AI extraction are skipped",
	})

	issues := 0
	for _, c := range checks {
		if c.ok {
			fmt.Printf("✅ %s\n", c.name)
			continue
		}
		issues++
		fmt.Printf("⚠️  %s: %s\n", c.name, c.note)
	}

	fmt.Println()
	if issues == 0 {
		fmt.Println("✅ All checks passed!")
	} else {
		fmt.Printf("⚠️  Found %d issue(s).\n", issues)
	}
}

// remoteKeyCheck passes when ai.remote.api_key is set in the file or the
// environment provides the key
func remoteKeyCheck(cfg *config.Config) check {
	c := check{name: "Remote AI key", ok: true}
	if cfg.AI.Remote.APIKey != "" {
		return c
	}
	if _, err := config.GetRequiredEnv("PAPERFLOW_AI_REMOTE_API_KEY"); err != nil {
		c.ok = false
		c.note = err.Error() + ", only the local model is used"
	}
	return c
}

func binaryCheck(name, consequence string) check {
	_, err := exec.LookPath(name)
	return check{name: name, ok: err == nil, note: "not found, " + consequence}
}

func dirCheck(name, path string) check {
	info, err := os.Stat(path)
	return check{name: name, ok: err == nil && info.IsDir(), note: path + " does not exist"}
}

// ==================== Catalog ====================

// HandleCatalogCommand upserts fields and catalog rows from a YAML file
func HandleCatalogCommand(args []string) {
	fs, g := newFlagSet("catalog")
	parse(fs, args)
	if fs.NArg() < 1 {
		fmt.Println("Usage: paperflow catalog <file.yaml>")
		os.Exit(1)
	}

	f, err := catalog.LoadFile(fs.Arg(0))
	if err != nil {
		fail("Error reading catalog", err)
	}

	withApp(g, func(ctx context.Context, a *app.App) error {
		if err := catalog.Apply(ctx, a.Store, f, a.Logger.Named("catalog")); err != nil {
			return err
		}
		fmt.Printf("✓ Applied %d fields, %d correspondents, %d document types, %d tags\n",
			len(f.Fields), len(f.Correspondents), len(f.DocumentTypes), len(f.Tags))
		return nil
	})
}

// ==================== Config ====================

func HandleConfigCommand(args []string) {
	if len(args) == 0 {
		PrintConfigHelp()
		return
	}

	fs, g := newFlagSet("config")
	parse(fs, args[1:])

	switch args[0] {
	case "get":
		if fs.NArg() < 1 {
			fmt.Println("Usage: paperflow config get <key>")
			fmt.Println("Example: paperflow config get storage.watch_dir")
			os.Exit(1)
		}
		cfg, err := loadConfig(g)
		if err != nil {
			fail("Error loading config", err)
		}
		value, ok := configValue(cfg, fs.Arg(0))
		if !ok {
			fmt.Printf("Unknown key: %s\n", fs.Arg(0))
			fmt.Printf("Available keys: %s\n", joinKeys())
			os.Exit(1)
		}
		fmt.Println(value)

	case "path":
		fmt.Println(configPath(g))

	case "show", "view":
		data, err := os.ReadFile(configPath(g))
		if err != nil {
			fail("Error reading config", err)
		}
		fmt.Println(string(data))

	default:
		PrintConfigHelp()
	}
}

func configPath(g *globalFlags) string {
	if g.configPath != "" {
		return g.configPath
	}
	cfg, err := loadConfig(g)
	if err != nil {
		fail("Error loading config", err)
	}
	return filepath.Join(cfg.Storage.DataDir, "paperflow.yaml")
}

var configKeys = []string{
	"storage.data_dir",
	"storage.watch_dir",
	"storage.documents_dir",
	"storage.staging_dir",
	"storage.archive_dir",
	"scan.schedule",
	"split.enabled",
	"ai.remote.model",
	"ai.local.model",
	"lifecycle.auto_validate_threshold",
	"lifecycle.auto_file",
	"api.address",
}

func configValue(cfg *config.Config, key string) (string, bool) {
	switch key {
	case "storage.data_dir":
		return cfg.Storage.DataDir, true
	case "storage.watch_dir":
		return cfg.Storage.WatchDir, true
	case "storage.documents_dir":
		return cfg.Storage.DocumentsDir, true
	case "storage.staging_dir":
		return cfg.Storage.StagingDir, true
	case "storage.archive_dir":
		return cfg.Storage.ArchiveDir, true
	case "scan.schedule":
		return cfg.Scan.Schedule, true
	case "split.enabled":
		return fmt.Sprint(cfg.Split.Enabled), true
	case "ai.remote.model":
		return cfg.AI.Remote.Model, true
	case "ai.local.model":
		return cfg.AI.Local.Model, true
	case "lifecycle.auto_validate_threshold":
		return fmt.Sprint(cfg.Lifecycle.AutoValidateThreshold), true
	case "lifecycle.auto_file":
		return fmt.Sprint(cfg.Lifecycle.AutoFile), true
	case "api.address":
		return cfg.API.Address, true
	}
	return "", false
}

func joinKeys() string {
	return strings.Join(configKeys, ", ")
}

// ==================== Token ====================

// HandleTokenCommand prints a bearer token for the review API
func HandleTokenCommand(args []string) {
	fs, g := newFlagSet("token")
	subject := fs.String("subject", "", "User recorded on validations (defaults to $USER)")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "Token lifetime, 0 for none")
	parse(fs, args)

	cfg, err := loadConfig(g)
	if err != nil {
		fail("Error loading config", err)
	}
	if *subject == "" {
		*subject = config.GetEnvDefault("USER", "api")
	}

	token, err := api.IssueToken(cfg.API.JWTSecret, *subject, *ttl)
	if err != nil {
		fail("Error issuing token", err)
	}
	fmt.Println(token)
}
