package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelcli/kestrel/internal/acp"
	"github.com/kestrelcli/kestrel/internal/approval"
	"github.com/kestrelcli/kestrel/internal/audit"
	"github.com/kestrelcli/kestrel/internal/bus"
	"github.com/kestrelcli/kestrel/internal/config"
	otelPkg "github.com/kestrelcli/kestrel/internal/otel"
	"github.com/kestrelcli/kestrel/internal/persistence"
	"github.com/kestrelcli/kestrel/internal/policy"
	"github.com/kestrelcli/kestrel/internal/provider"
	"github.com/kestrelcli/kestrel/internal/runtime"
	"github.com/kestrelcli/kestrel/internal/session"
	"github.com/kestrelcli/kestrel/internal/telemetry"
	"github.com/kestrelcli/kestrel/internal/timemachine"
	"github.com/kestrelcli/kestrel/internal/tools"
	"github.com/kestrelcli/kestrel/internal/ui/printer"
	"github.com/kestrelcli/kestrel/internal/ui/shell"
	"github.com/kestrelcli/kestrel/internal/wire"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v1.0.0"

const defaultSystemPrompt = `You are kestrel, a coding agent running in the user's terminal.
Work inside the current working directory. Use the provided tools to read,
write and search files and to fetch web pages; never pretend a tool ran.
If you realize an earlier decision in this conversation was wrong, you may
use send_tmail to rewind to an earlier checkpoint with a corrective note.
Be concise and concrete.`

type cliFlags struct {
	version      bool
	workDir      string
	continueLast bool
	sessionID    string
	printMode    bool
	acpMode      bool
	wireMode     bool
	inputFormat  string
	outputFormat string
	yolo         bool
	thinking     bool
	thinkingSet  bool
	model        string
	debug        bool
}

func parseFlags() (*cliFlags, []string) {
	f := &cliFlags{}
	flag.BoolVar(&f.version, "version", false, "print the version and exit")
	flag.StringVar(&f.workDir, "w", "", "working directory (default: current directory)")
	flag.BoolVar(&f.continueLast, "c", false, "continue the most recent session in this directory")
	flag.StringVar(&f.sessionID, "s", "", "resume the session with this id")
	flag.BoolVar(&f.printMode, "print", false, "non-interactive mode: run the prompt and exit")
	flag.BoolVar(&f.acpMode, "acp", false, "serve JSON-RPC 2.0 on stdio")
	flag.BoolVar(&f.wireMode, "wire", false, "serve newline-delimited JSON commands on stdio")
	flag.StringVar(&f.inputFormat, "input-format", "text", "print mode input format: text or stream-json")
	flag.StringVar(&f.outputFormat, "output-format", "text", "print mode output format: text or stream-json")
	flag.BoolVar(&f.yolo, "yolo", false, "auto-approve all tool actions")
	flag.BoolVar(&f.thinking, "thinking", false, "enable extended reasoning on capable models")
	flag.StringVar(&f.model, "m", "", "model name from the config (default: default_model)")
	flag.BoolVar(&f.debug, "debug", false, "log at debug level")
	flag.Parse()
	flag.Visit(func(fl *flag.Flag) {
		if fl.Name == "thinking" {
			f.thinkingSet = true
		}
	})
	return f, flag.Args()
}

// conflictSets mirrors the mutually exclusive flag groups.
var conflictSets = [][2]string{
	{"print", "acp"},
	{"print", "wire"},
	{"acp", "wire"},
	{"c", "s"},
}

func checkConflicts(f *cliFlags) error {
	set := map[string]bool{
		"print": f.printMode,
		"acp":   f.acpMode,
		"wire":  f.wireMode,
		"c":     f.continueLast,
		"s":     f.sessionID != "",
	}
	for _, pair := range conflictSets {
		if set[pair[0]] && set[pair[1]] {
			return fmt.Errorf("flags -%s and -%s are mutually exclusive", pair[0], pair[1])
		}
	}
	if f.inputFormat != "text" || f.outputFormat != "text" {
		if !f.printMode {
			return errors.New("-input-format and -output-format require -print")
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kestrel:", err)
		os.Exit(1)
	}
}

func run() error {
	flags, args := parseFlags()
	if flags.version {
		fmt.Println("kestrel", Version)
		return nil
	}
	if err := checkConflicts(flags); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	homeDir, err := config.HomeDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(homeDir)
	if err != nil {
		return err
	}
	if flags.debug {
		cfg.LogLevel = "debug"
	}

	interactive := !flags.printMode && !flags.acpMode && !flags.wireMode
	// Machine-facing modes own stdout, so logs go to file only.
	quietLogs := interactive || flags.acpMode || flags.wireMode ||
		(flags.printMode && flags.outputFormat == "stream-json")

	logger, logCloser, err := telemetry.NewLogger(homeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	auditLog, err := audit.Open(homeDir)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:    cfg.Otel.Enabled,
		Exporter:   cfg.Otel.Exporter,
		Endpoint:   cfg.Otel.Endpoint,
		SampleRate: cfg.Otel.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return err
	}

	store, err := persistence.Open(filepath.Join(homeDir, "kestrel.db"), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	workDir := flags.workDir
	if workDir == "" {
		workDir = "."
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	// A policy.yaml next to the config overrides the config's policy
	// section; without one the inline section (or the default) applies.
	pol := cfg.Policy
	polPath := filepath.Join(homeDir, "policy.yaml")
	if _, statErr := os.Stat(polPath); statErr == nil {
		pol, err = policy.Load(polPath)
		if err != nil {
			return err
		}
	}

	meta, err := config.LoadMetadata(homeDir)
	if err != nil {
		logger.Warn("metadata unreadable, using defaults", "error", err)
	}
	thinking := meta.Thinking
	if flags.thinkingSet {
		thinking = flags.thinking
	}

	sessions := session.NewStore(store, workDir, logger)
	sess, err := resolveSession(ctx, sessions, flags)
	if err != nil {
		return err
	}

	eventBus := bus.New()
	watcher := config.NewWatcher(homeDir, logger)
	if interactive {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			go func() {
				for range watcher.Events() {
					logger.Info("configuration changed on disk; restart to apply")
				}
			}()
		}
	}

	app := &application{
		cfg:      cfg,
		flags:    flags,
		logger:   logger,
		metrics:  metrics,
		tracer:   otelProvider.Tracer,
		store:    store,
		auditLog: auditLog,
		bus:      eventBus,
		sessions: sessions,
		workDir:  workDir,
		policy:   pol,
		thinking: thinking,
	}

	rt, err := app.buildRuntime(ctx, sess, interactive)
	if err != nil {
		return err
	}

	switch {
	case flags.acpMode:
		server := acp.New(acp.Options{Runtime: rt, Version: Version, Logger: logger})
		err = server.Run(ctx)
	case flags.wireMode:
		server := wire.New(wire.Options{Runtime: rt, Logger: logger})
		err = server.Run(ctx)
	case flags.printMode:
		err = app.runPrint(ctx, rt, args)
	default:
		sess, err = app.runShell(ctx, rt, sess)
	}
	if err != nil {
		return err
	}

	if err := sessions.SetLast(ctx, sess); err != nil {
		logger.Warn("last session not recorded", "error", err)
	}
	meta.Thinking = rt.Thinking()
	if err := config.SaveMetadata(homeDir, meta); err != nil {
		logger.Warn("metadata not saved", "error", err)
	}
	return nil
}

type application struct {
	cfg      *config.Config
	flags    *cliFlags
	logger   *slog.Logger
	metrics  *otelPkg.Metrics
	tracer   trace.Tracer
	store    *persistence.Store
	auditLog *audit.Log
	bus      *bus.Bus
	sessions *session.Store
	workDir  string
	policy   policy.Policy
	thinking bool
}

func resolveSession(ctx context.Context, sessions *session.Store, flags *cliFlags) (*session.Session, error) {
	switch {
	case flags.sessionID != "":
		sess, err := sessions.Find(ctx, flags.sessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, fmt.Errorf("no session %s in this directory", flags.sessionID)
		}
		return sess, nil
	case flags.continueLast:
		sess, err := sessions.Continue(ctx)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
		return sessions.Create(ctx)
	default:
		return sessions.Create(ctx)
	}
}

func (a *application) buildRuntime(ctx context.Context, sess *session.Session, interactive bool) (*runtime.Runtime, error) {
	mc, pc, err := a.cfg.ResolveModel(a.flags.model)
	if err != nil {
		return nil, err
	}
	chat := provider.NewOpenAICompat(provider.OpenAIOptions{
		BaseURL:        pc.BaseURL,
		APIKey:         pc.APIKey,
		Model:          mc.Model,
		MaxContextSize: mc.MaxContextSize,
		Capabilities:   mc.Capabilities,
		Logger:         a.logger,
	})
	retrier := provider.NewRetrier(chat, 3, a.logger)

	gate := approval.New(sess.ID, a.auditLog, a.flags.yolo)
	tm := timemachine.New()
	pol := a.policy

	registry := tools.NewRegistry(pol, a.logger)
	for _, t := range []tools.Tool{
		tools.NewReadFile(a.workDir),
		tools.NewWriteFile(a.workDir, gate, pol),
		tools.NewGlob(a.workDir),
		tools.NewFetch(gate, pol),
		tools.NewSendTMail(tm),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	jnl, err := a.sessions.OpenJournal(ctx, sess)
	if err != nil {
		return nil, err
	}

	return runtime.New(runtime.Options{
		Journal:      jnl,
		Gate:         gate,
		TimeMachine:  tm,
		Provider:     retrier,
		Registry:     registry,
		Bus:          a.bus,
		Logger:       a.logger,
		Metrics:      a.metrics,
		Tracer:       a.tracer,
		SystemPrompt: defaultSystemPrompt,
		Thinking:     a.thinking,
		Interactive:  interactive,
		Compactor: runtime.CompactorOptions{
			Threshold:       a.cfg.Compactor.Threshold,
			KeepCheckpoints: a.cfg.Compactor.KeepCheckpoints,
		},
	}), nil
}

func (a *application) runPrint(ctx context.Context, rt *runtime.Runtime, args []string) error {
	inFormat, err := printer.ParseFormat(a.flags.inputFormat)
	if err != nil {
		return err
	}
	outFormat, err := printer.ParseFormat(a.flags.outputFormat)
	if err != nil {
		return err
	}
	prompt := ""
	if len(args) > 0 {
		prompt = args[0]
	}
	p := printer.New(printer.Options{
		Runtime:      rt,
		InputFormat:  inFormat,
		OutputFormat: outFormat,
	})
	return p.Run(ctx, prompt)
}

// runShell runs the interactive loop, rebuilding the runtime whenever the
// user switches sessions. It returns the session that was active on exit.
func (a *application) runShell(ctx context.Context, rt *runtime.Runtime, sess *session.Session) (*session.Session, error) {
	for {
		sh := shell.New(shell.Options{
			Runtime:  rt,
			Sessions: a.sessions,
			Version:  Version,
			Logger:   a.logger,
		})
		err := sh.Run(ctx)
		var reload *shell.ReloadError
		if !errors.As(err, &reload) {
			return sess, err
		}

		next, ferr := a.sessions.Find(ctx, reload.SessionID)
		if ferr != nil {
			return sess, ferr
		}
		if next == nil {
			return sess, fmt.Errorf("session %s disappeared", reload.SessionID)
		}
		a.thinking = rt.Thinking()
		rt, ferr = a.buildRuntime(ctx, next, true)
		if ferr != nil {
			return sess, ferr
		}
		sess = next
	}
}
