package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/deskhand/internal/actions"
	"github.com/basket/deskhand/internal/audit"
	"github.com/basket/deskhand/internal/briefing"
	"github.com/basket/deskhand/internal/bus"
	"github.com/basket/deskhand/internal/config"
	"github.com/basket/deskhand/internal/ledger"
	"github.com/basket/deskhand/internal/model"
	otelPkg "github.com/basket/deskhand/internal/otel"
	"github.com/basket/deskhand/internal/orchestrator"
	"github.com/basket/deskhand/internal/policy"
	"github.com/basket/deskhand/internal/reason"
	"github.com/basket/deskhand/internal/telemetry"
	"github.com/basket/deskhand/internal/vault"
	"github.com/basket/deskhand/internal/watcher"
	"github.com/basket/deskhand/internal/watchers"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                          Run the deskhand daemon
  %s once                     Run a single processing iteration and exit
  %s briefing                 Generate the weekly briefing now and exit
  %s doctor [-json]           Run diagnostic checks
  %s help                     Show this message

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  DESKHAND_HOME               Data directory (default: ~/.deskhand)
  DESKHAND_VAULT              Vault directory (default: $DESKHAND_HOME/vault)
  DESKHAND_LOG_LEVEL          Log level: debug, info, warn, error
  DESKHAND_REASON_COMMAND     Reasoning CLI executable (default: claude)
  TELEGRAM_BOT_TOKEN          Enables the Telegram watcher and chat replies
`)
}

func main() {
	loadDotEnv(".env")

	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *versionFlag {
		fmt.Println("deskhand", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "daemon"
	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "once", "briefing":
			mode = strings.ToLower(strings.TrimSpace(args[0]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	quietLogs := !isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded",
		"version", Version, "home", cfg.HomeDir, "config_fingerprint", cfg.Fingerprint())

	trail, err := audit.Open(cfg.HomeDir, logger)
	if err != nil {
		fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer trail.Close()

	var led *ledger.Ledger
	if cfg.LedgerEnabled {
		led, err = ledger.Open(ledger.DefaultPath(cfg.HomeDir))
		if err != nil {
			fatalStartup(logger, "E_LEDGER_OPEN", err)
		}
		defer led.Close()
		trail.SetMirror(led)
	}

	otelCfg := cfg.Otel
	otelCfg.Version = Version
	otelProvider, err := otelPkg.Init(ctx, otelCfg)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	store := vault.New(cfg.VaultPath, logger)
	if err := store.EnsureStructure(); err != nil {
		fatalStartup(logger, "E_VAULT_INIT", err)
	}
	logger.Info("startup phase", "phase", "vault_ready", "vault", store.Root())

	pol, err := policy.Load(filepath.Join(cfg.HomeDir, "policy.yaml"), cfg.Ralph.ConfidenceThreshold)
	if err != nil {
		fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	logger.Info("startup phase", "phase", "policy_loaded", "policy_version", pol.Version())

	engine := &reason.CLIEngine{
		Command: cfg.Reason.Command,
		Model:   cfg.Reason.Model,
		Timeout: cfg.Reason.Timeout(),
		WorkDir: store.Root(),
		Logger:  logger,
	}

	eventBus := bus.New()
	dispatcher := buildDispatcher(cfg, store, logger)

	orch := orchestrator.New(orchestrator.Options{
		RalphInterval:      time.Duration(cfg.Ralph.IntervalSeconds) * time.Second,
		MaxConcurrentTasks: cfg.Ralph.MaxConcurrentTasks,
		HealthInterval:     time.Duration(cfg.HealthCheckIntervalSeconds) * time.Second,
		HandbookPath:       cfg.HandbookPath(),
		GoalsPath:          cfg.GoalsPath(),
		RalphDisabled:      !cfg.Ralph.Enabled,
	}, store, trail, eventBus, pol, engine, dispatcher, logger,
		watcher.RealClock(), otelProvider.Tracer, metrics)
	if led != nil {
		orch.SetLedger(led)
	}

	briefer := briefing.New(store, trail, led, logger, cfg.Briefing.Schedule, cfg.AuditRetentionDays)

	switch mode {
	case "once":
		if err := orch.Iteration(ctx); err != nil {
			logger.Error("iteration failed", "error", err)
			os.Exit(1)
		}
		return
	case "briefing":
		if err := briefer.GenerateBriefing(ctx); err != nil {
			logger.Error("briefing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	addRunner := func(w watcher.Watcher) {
		r := watcher.NewRunner(w, store, trail, eventBus, logger, nil)
		r.MaxCycleFailures = cfg.ErrorRetryAttempts
		r.Metrics = metrics
		orch.AddRunner(r)
	}
	if cfg.Watchers.Filesystem.Enabled {
		addRunner(watchers.NewFilesystem(store.Root(),
			time.Duration(cfg.Watchers.Filesystem.PollIntervalSeconds)*time.Second, logger))
	}
	if cfg.Watchers.Telegram.Enabled {
		if cfg.Watchers.Telegram.Token == "" {
			logger.Warn("telegram watcher enabled but token is missing")
		} else {
			addRunner(watchers.NewTelegram(
				cfg.Watchers.Telegram.Token,
				cfg.Watchers.Telegram.AllowedIDs,
				time.Duration(cfg.Watchers.Telegram.PollIntervalSeconds)*time.Second,
				logger,
			))
		}
	}

	if err := orch.Start(ctx); err != nil {
		fatalStartup(logger, "E_ORCHESTRATOR_START", err)
	}
	logger.Info("startup phase", "phase", "orchestrator_started")

	if cfg.Briefing.Enabled {
		if err := briefer.Start(ctx); err != nil {
			fatalStartup(logger, "E_BRIEFING_START", err)
		}
		defer briefer.Stop()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Stop(shutdownCtx)
	logger.Info("shutdown complete")
}

// buildDispatcher registers an executor for every recognized action type.
// Outward-facing side effects (email, payments, social posts) are written to
// the outbox for an external delivery agent; a chat reply goes straight to
// Telegram when the channel is configured.
func buildDispatcher(cfg config.Config, store *vault.Store, logger *slog.Logger) *actions.Dispatcher {
	d := actions.NewDispatcher(logger)

	outbox := actions.NewOutbox(cfg.HomeDir, logger)
	d.Register(model.ActionEmailReply, actions.ExecutorFunc(outbox.EmailReply))
	d.Register(model.ActionEmailSend, actions.ExecutorFunc(outbox.EmailSend))
	d.Register(model.ActionPayment, actions.ExecutorFunc(outbox.Payment))
	d.Register(model.ActionSocialPost, actions.ExecutorFunc(outbox.SocialPost))

	d.Register(model.ActionFileOperation, actions.NewFileOperator(store.Root(), logger))
	d.Register(model.ActionCalendarEvent, actions.NewCalendar(store.Root(), logger))
	d.Register(model.ActionInvoice, actions.NewInvoiceWriter(store.Root(), logger))

	if cfg.Watchers.Telegram.Enabled && cfg.Watchers.Telegram.Token != "" {
		replier, err := actions.NewChatReplier(cfg.Watchers.Telegram.Token, logger)
		if err != nil {
			logger.Error("chat replier unavailable", "error", err)
		} else {
			d.Register(model.ActionChatReply, replier)
		}
	}

	// Custom actions have no side effect channel; record them in the audit
	// trail and leave the task document as the artifact.
	d.Register(model.ActionCustom, actions.ExecutorFunc(
		func(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
			logger.Info("custom action recorded", "action_id", action.ID, "title", action.Title)
			return nil
		}))
	return d
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
