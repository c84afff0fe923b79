// Matrix-openai-bot bridges Matrix rooms to an OpenAI-compatible
// chat-completions backend. It runs as a Matrix application service:
// the homeserver pushes room events to it, and it replies in-room
// through the client-server API.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	matrix-openai-bot serve            Start the appservice
//	matrix-openai-bot register         Print the appservice registration YAML
//	matrix-openai-bot version          Print version and build information
//	matrix-openai-bot -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spacebased/matrix-openai-bot/internal/appservice"
	"github.com/spacebased/matrix-openai-bot/internal/bot"
	"github.com/spacebased/matrix-openai-bot/internal/buildinfo"
	"github.com/spacebased/matrix-openai-bot/internal/config"
	"github.com/spacebased/matrix-openai-bot/internal/events"
	"github.com/spacebased/matrix-openai-bot/internal/matrix"
	"github.com/spacebased/matrix-openai-bot/internal/observability"
	"github.com/spacebased/matrix-openai-bot/internal/openai"
	"github.com/spacebased/matrix-openai-bot/internal/tools"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible
// to call run concurrently from tests, and the argument surface here
// is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "register":
		return runRegister(stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "matrix-openai-bot - Matrix appservice bridging rooms to a chat-completions backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: matrix-openai-bot [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve       Start the appservice")
	fmt.Fprintln(w, "  register    Print the appservice registration YAML")
	fmt.Fprintln(w, "  version     Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runRegister emits the registration document the homeserver admin
// installs, derived from the loaded configuration.
func runRegister(stdout io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg.BuildRegistration())
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	_, err = stdout.Write(out)
	return err
}

// loadConfig discovers, loads, and validates the configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds a structured logger writing to w in the given
// format ("text" or "json").
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runServe is the primary operating mode: it wires the engine to the
// homeserver and the completion backend, starts the appservice HTTP
// server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting matrix-openai-bot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level and format are known. The
	// initial Info-level text logger only covers the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by loadConfig; the error path is
			// unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"homeserver", cfg.Homeserver.URL,
		"bot_user", cfg.BotUserID(),
		"model", cfg.OpenAI.Model,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Homeserver side ---
	client := matrix.NewClient(cfg.Homeserver.URL, cfg.Appservice.ASToken, logger)
	device := matrix.NewDevice(client, cfg.BotUserID(), nil)
	user := matrix.NewUser(cfg.BotUserID(), device)

	// --- Completion side ---
	backend := openai.NewClient(cfg.OpenAI, logger)
	registry := tools.NewRegistry()

	// --- Observability ---
	bus := events.New()
	metrics := observability.NewMetrics("matrix_openai_bot", nil)
	metricsCh := bus.Subscribe(64)
	defer bus.Unsubscribe(metricsCh)
	go metrics.Run(ctx, metricsCh)

	// --- Engine ---
	engine := bot.NewEngine(bot.EngineConfig{
		Store:     bot.NewStore(),
		Client:    backend,
		Registry:  registry,
		BotUserID: user.ID(),
		Logger:    logger,
		Bus:       bus,
	})

	dispatch := func(ctx context.Context, raw matrix.RawEvent) {
		roomID, err := matrix.EventRoomID(raw)
		if err != nil {
			logger.Warn("dropping event without room id", "error", err)
			return
		}
		room := client.Room(roomID)

		tag, err := matrix.EventType(raw)
		if err != nil {
			logger.Warn("dropping untyped event", "room_id", roomID, "error", err)
			return
		}
		switch tag {
		case matrix.EventTypeMember:
			if err := engine.HandleRoomMember(ctx, raw, room); err != nil {
				logger.Error("handle membership change", "room_id", roomID, "error", err)
			}
		case matrix.EventTypeMessage, matrix.EventTypeEncrypted:
			if err := engine.HandleRoomMessage(ctx, raw, room, user.GetDevice()); err != nil {
				logger.Error("handle room message", "room_id", roomID, "error", err)
			}
		default:
			logger.Debug("ignoring event", "room_id", roomID, "type", tag)
		}
	}

	// --- Appservice HTTP surface ---
	as := appservice.NewServer(cfg.Appservice.HSToken, dispatch, logger, bus)
	routes := as.Routes()
	routes.Handle("/metrics", observability.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("appservice listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("appservice server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("goodbye", "uptime", buildinfo.Uptime())
	return nil
}
