// OmniMind is a conversational agent backend with long-term memory.
//
// It exposes a streaming chat API driven by a tool-calling completion
// loop, with SQLite-backed history, hard rules, Mem0 memories, and
// tools served by a Formula service. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	omnimind serve           Start the API server
//	omnimind init [dir]      Initialize a working directory with defaults
//	omnimind version         Print version and build information
//	omnimind -o json version Output version information as JSON
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

	"github.com/omnimind-ai/omnimind/internal/agent"
	"github.com/omnimind-ai/omnimind/internal/api"
	"github.com/omnimind-ai/omnimind/internal/buildinfo"
	"github.com/omnimind-ai/omnimind/internal/config"
	"github.com/omnimind-ai/omnimind/internal/formula"
	"github.com/omnimind-ai/omnimind/internal/history"
	"github.com/omnimind-ai/omnimind/internal/llm"
	"github.com/omnimind-ai/omnimind/internal/mem0"
	"github.com/omnimind-ai/omnimind/internal/store"
	"github.com/omnimind-ai/omnimind/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. OS-level dependencies are injected so
// the lifecycle can be driven from tests. Arguments are parsed by hand;
// the flag package's global state gets in the way of parallel tests and
// the surface here is two flags and two subcommands.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

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
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			if command == "" {
				command = args[i]
			} else {
				cmdArgs = append(cmdArgs, args[i])
			}
		default:
			return fmt.Errorf("unknown argument: %s (try -help)", args[i])
		}
	}

	switch command {
	case "", "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s (try -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprint(w, `OmniMind - conversational agent backend

Usage:
  omnimind [flags] <command>

Commands:
  serve        Start the API server (default)
  init [dir]   Initialize a working directory with defaults (default: .)
  version      Print version and build information

Flags:
  -config <path>   Config file path (default: auto-discover)
  -o <format>      Output format for version: text or json
`)
	return nil
}

func runVersion(stdout io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(buildinfo.Info())
	}
	fmt.Fprintln(stdout, buildinfo.String())
	return nil
}

// runServe loads config, opens the database, constructs the
// collaborators and the orchestrator, starts the API server, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting OmniMind",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"advanced_model", cfg.Models.Advanced.Name,
		"fast_model", cfg.Models.Fast.Name,
	)

	st, err := store.NewStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Storage.SQLitePath, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", cfg.Storage.SQLitePath)

	advanced := llm.NewClient(cfg.Models.Advanced, logger)
	fast := advanced
	if cfg.Models.Fast.Name != "" {
		fast = llm.NewClient(cfg.Models.Fast, logger)
	}

	// Memory service is optional; without an API key turns run with no
	// retrieved memories and skip memory writes.
	var mem agent.Memory
	var memClear api.MemoryClearer
	if cfg.Memory.Mem0.APIKey != "" {
		m := mem0.NewClient(cfg.Memory.Mem0.BaseURL, cfg.Memory.Mem0.APIKey, logger)
		mem = m
		memClear = m
		logger.Info("memory service configured", "base_url", cfg.Memory.Mem0.BaseURL)
	} else {
		logger.Warn("memory service not configured - turns run without long-term memory")
	}

	var remote tools.RemoteProvider
	if cfg.Formula.BaseURL != "" {
		remote = formula.NewClient(cfg.Formula.BaseURL, cfg.Formula.APIKey, cfg.Formula.URIs, logger)
		logger.Info("formula service configured",
			"base_url", cfg.Formula.BaseURL, "uris", len(cfg.Formula.URIs))
	}

	registry := tools.NewRegistry(remote)
	registry.SetRuleStore(st)
	registry.SetWebFetch(nil)

	summarizer := history.NewLLMSummarizer(func(ctx context.Context, prompt string) (string, error) {
		resp, err := fast.Chat(ctx, []llm.Message{llm.TextMessage("user", prompt)}, llm.ChatOptions{
			MaxTokens:       512,
			Temperature:     0.3,
			DisableThinking: true,
		})
		if err != nil {
			return "", err
		}
		return resp.Message.Text(), nil
	})
	compressor := history.NewCompressor(history.Config{
		TokenThreshold: cfg.Context.TokenThreshold,
		RecentDefault:  cfg.Context.RecentDefault,
	}, summarizer, st, logger)

	orch := agent.New(advanced, fast, st, mem, registry, compressor, logger)

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, orch, st, memClear, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	logger.Info("shutdown complete", "uptime", buildinfo.Uptime())
	return nil
}

// newLogger builds the process logger: text handler with trace level
// renaming (see config.LevelTrace).
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler)
}
