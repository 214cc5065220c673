package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canvasmate/canvasmate/internal/agent"
	"github.com/canvasmate/canvasmate/internal/api"
	"github.com/canvasmate/canvasmate/internal/archive"
	"github.com/canvasmate/canvasmate/internal/canvas"
	"github.com/canvasmate/canvasmate/internal/config"
	"github.com/canvasmate/canvasmate/internal/digest"
	"github.com/canvasmate/canvasmate/internal/tools"
	"github.com/canvasmate/canvasmate/internal/tui"
	"github.com/canvasmate/canvasmate/internal/usage"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Client   *canvas.Client
	Registry *tools.Registry
	Ledger   *usage.Ledger
	Archive  *archive.Store // nil when unavailable
	Provider agent.Provider
}

func main() {
	os.Exit(run())
}

func run() int {
	// Subcommand is the first non-flag argument; default is the chat TUI.
	subCmd := "chat"
	args := os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		subCmd = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("canvasmate", flag.ExitOnError)
	configPath := fs.String("config", "canvasmate.json", "Path to config file")
	ledgerPath := fs.String("ledger", "", "Override usage ledger path (costs command)")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("CanvasMate v%s (built %s)\n", version, buildTime)
		fmt.Println("Canvas LMS assistant with tool-calling agent")
		return 0
	}

	// Commands that work without a full agent setup.
	switch subCmd {
	case "init":
		return runInit(*configPath)
	case "costs":
		return runCosts(*configPath, *ledgerPath)
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.close()

	switch subCmd {
	case "chat":
		return runChat(app)
	case "serve":
		return runServe(app)
	case "tools":
		return runTools(app)
	case "digest":
		return runDigest(app)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subCmd)
		fmt.Fprintln(os.Stderr, "Available commands: chat, serve, tools, digest, costs, init")
		return 1
	}
}

// setup initializes all application components.
func setup(configPath string) (*App, error) {
	app := &App{}

	app.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with config's log level
	app.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	app.Logger.Info("starting CanvasMate", "version", version, "config", configPath)

	app.Client = canvas.NewClient(
		cfg.Canvas.BaseURL,
		cfg.Canvas.Token,
		time.Duration(cfg.Canvas.TimeoutMs)*time.Millisecond,
		app.Logger,
	)

	app.Registry = tools.NewRegistry(app.Logger)
	if err := tools.RegisterCanvasTools(app.Registry, app.Client); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	app.Ledger, err = usage.Open(cfg.Ledger.Path, priceTable(cfg), app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}

	// Archive failures degrade to no persistence, not a dead assistant.
	store, err := archive.Open(filepath.Join(cfg.Server.DataDir, "archive.db"), app.Logger)
	if err != nil {
		app.Logger.Warn("transcript archive unavailable", "error", err)
	} else {
		app.Archive = store
	}

	app.Provider = agent.NewOpenAIProvider(cfg.Model.BaseURL, cfg.Model.APIKey, app.Logger)
	return app, nil
}

func (app *App) close() {
	if app.Ledger != nil {
		app.Ledger.Close()
	}
	if app.Archive != nil {
		app.Archive.Close()
	}
}

// newLoop builds a loop over a fresh session wired to the archive.
func (app *App) newLoop() *agent.Loop {
	session := agent.NewSession(app.Logger)
	if app.Archive != nil {
		session.SetSink(app.Archive)
	}
	return agent.NewLoop(app.Provider, app.Registry, app.Ledger, session, app.loopConfig(), app.Logger)
}

func (app *App) loopConfig() agent.LoopConfig {
	cfg := app.Config
	return agent.LoopConfig{
		Model:          cfg.Model.ID,
		SystemPrompt:   cfg.Agent.SystemPrompt,
		Temperature:    cfg.Model.Temperature,
		MaxTokens:      cfg.Model.MaxTokens,
		MaxIterations:  cfg.Agent.MaxIterations,
		MaxParallel:    cfg.Agent.MaxParallel,
		RetryLimit:     cfg.Agent.RetryLimit,
		ToolTimeout:    time.Duration(cfg.Agent.ToolTimeoutMs) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.Agent.RequestTimeoutMs) * time.Millisecond,
	}
}

// priceTable merges configured pricing over the built-in defaults.
func priceTable(cfg *config.Config) usage.PriceTable {
	prices := usage.DefaultPrices()
	for model, rate := range cfg.Model.Pricing {
		prices[model] = usage.Rate{InputPer1K: rate.InputPer1K, OutputPer1K: rate.OutputPer1K}
	}
	return prices
}

// runChat starts the interactive terminal chat on one session.
func runChat(app *App) int {
	loop := app.newLoop()
	ask := func(ctx context.Context, query string) (*agent.Reply, error) {
		return loop.Ask(ctx, query)
	}
	if err := tui.Run(ask, app.Logger); err != nil {
		app.Logger.Error("chat failed", "error", err)
		return 1
	}
	return 0
}

// runServe starts the HTTP API plus the scheduled digest.
func runServe(app *App) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func(session *agent.Session) *agent.Loop {
		return agent.NewLoop(app.Provider, app.Registry, app.Ledger, session, app.loopConfig(), app.Logger)
	}
	var sink agent.TranscriptSink
	if app.Archive != nil {
		sink = app.Archive
	}
	sessions := api.NewSessionManager(factory, sink, app.Logger)
	server := api.NewServer(app.Config.Server.Port, app.Registry, sessions, app.Archive, app.Config.Ledger.Path, app.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	if app.Config.Digest.Enabled {
		runner, err := digest.New(app.Config.Digest, app.digestAsk(), app.Logger)
		if err != nil {
			app.Logger.Error("digest disabled", "error", err)
		} else {
			g.Go(func() error {
				runner.Start(gctx)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		app.Logger.Error("server error", "error", err)
		return 1
	}
	return 0
}

// digestAsk runs each digest on its own throwaway session.
func (app *App) digestAsk() digest.AskFunc {
	return func(ctx context.Context, query string) (string, error) {
		reply, err := app.newLoop().Ask(ctx, query)
		if err != nil {
			return "", err
		}
		return reply.Text, nil
	}
}

// runTools prints the registered tool catalog.
func runTools(app *App) int {
	for _, spec := range app.Registry.Specs() {
		fmt.Printf("%s\n    %s\n", spec.Name, spec.Description)
		for _, p := range spec.Params {
			required := ""
			if p.Required {
				required = " (required)"
			}
			fmt.Printf("    - %s %s%s: %s\n", p.Name, p.Type, required, p.Description)
		}
	}
	return 0
}

// runDigest writes one digest immediately, regardless of the schedule.
func runDigest(app *App) int {
	runner, err := digest.New(app.Config.Digest, app.digestAsk(), app.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Digest config invalid: %v\n", err)
		return 1
	}
	if err := runner.RunOnce(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Digest failed: %v\n", err)
		return 1
	}
	fmt.Printf("Digest written to %s\n", app.Config.Digest.Output)
	return 0
}

// runCosts prints the token usage summary from the ledger.
func runCosts(configPath, override string) int {
	path := override
	if path == "" {
		path = "token_usage.jsonl"
		if cfg, err := config.Load(configPath); err == nil {
			path = cfg.Ledger.Path
		}
	}

	records, err := usage.Read(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read ledger %s: %v\n", path, err)
		return 1
	}
	fmt.Println(usage.Summarize(records).Render())
	return 0
}

// runInit writes a starter config file.
func runInit(configPath string) int {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(os.Stderr, "Config %s already exists\n", configPath)
		return 1
	}
	cfg := config.DefaultConfig()
	cfg.Canvas.BaseURL = "https://your-school.instructure.com"
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", configPath)
	fmt.Println("Set CANVAS_TOKEN and OPENAI_API_KEY in the environment or a .env file.")
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
