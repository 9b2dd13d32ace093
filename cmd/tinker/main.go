package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"tinker/internal/agent"
	"tinker/internal/config"
	"tinker/internal/executor"
	"tinker/internal/llm"
	mockclient "tinker/internal/llm/mockclient"
	"tinker/internal/logging"
	"tinker/internal/metrics"
	"tinker/internal/openrouter"
	"tinker/internal/planner"
	"tinker/internal/reflector"
	"tinker/internal/session"
	"tinker/internal/tooling"
	"tinker/internal/turn"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		sandboxPath  = flag.String("sandbox", "", "Override workspace root/sandbox directory")
		resumeKey    = flag.String("resume", "", "Resume an existing session id")
		listSessions = flag.Bool("list-sessions", false, "List stored sessions and exit")
		promptFlag   = flag.String("p", "", "Execute a single prompt and exit (non-interactive mode)")
		configPath   = flag.String("config", "", "Path to config file (default ~/.tinker/config.yaml)")
		versionFlag  = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(promptFlag, "prompt", "", "Execute a single prompt and exit (non-interactive mode)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Tinker version %s\n", Version)
		return
	}

	if err := config.EnsureDefaultConfig(); err != nil {
		log.Fatalf("Failed to ensure default config: %v", err)
	}

	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadUserConfig()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if sandbox := strings.TrimSpace(*sandboxPath); sandbox != "" {
		cfg.OverrideWorkspaceRoot(sandbox)
	}

	absRoot, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		log.Fatalf("Failed to resolve workspace root: %v", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		log.Fatalf("Failed to create workspace root: %v", err)
	}
	cfg.WorkspaceRoot = absRoot

	if err := os.MkdirAll(filepath.Dir(cfg.SessionStorePath), 0o755); err != nil {
		log.Fatalf("Failed to create storage directory: %v", err)
	}

	logger := logging.Setup(cfg.LogPath, false)
	structured := logging.NewStructuredLogger(logger, "tinker", false)

	store, err := session.NewSQLiteStore(cfg.SessionStorePath)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *listSessions {
		ids, err := store.List(ctx)
		if err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		if len(ids) == 0 {
			fmt.Println("no stored sessions")
			return
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}

	client := buildClient(cfg, logger)

	registry, err := tooling.NewRegistry(tooling.Options{
		WorkspaceRoot:  cfg.WorkspaceRoot,
		CommandTimeout: cfg.CommandTimeout(),
		WebTimeout:     cfg.RequestTimeout(),
		Logger:         structured.WithComponent("tooling"),
	})
	if err != nil {
		log.Fatalf("Failed to build tool registry: %v", err)
	}

	ctrl := turn.New(turn.Options{
		Planner:   planner.NewLLMPlanner(client, cfg.Model, cfg.Temperature, structured.WithComponent("planner")),
		Executor:  executor.New(registry, structured.WithComponent("executor")),
		Reflector: reflector.New(cfg.MaxRetries, structured.WithComponent("reflector")),
		Store:     store,
		AutoRetry: cfg.AutoRetry(),
		Logger:    structured.WithComponent("turn"),
	})

	metrics.Serve(cfg.MetricsAddr)

	app := agent.New(ctrl, store, cfg, logger, agent.Options{ResumeKey: *resumeKey})

	if request := strings.TrimSpace(*promptFlag); request != "" {
		if err := app.RunOneShot(ctx, request); err != nil {
			log.Fatalf("Turn failed: %v", err)
		}
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Agent stopped: %v", err)
	}
}

// buildClient selects the LLM provider. TINKER_MOCK_LLM=1 swaps in the
// deterministic mock for tests and offline use.
func buildClient(cfg config.Config, logger *log.Logger) llm.Client {
	if os.Getenv("TINKER_MOCK_LLM") == "1" {
		logging.UserLog("using mock LLM client")
		return mockclient.New()
	}

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENROUTER_API_KEY is not set (or run with TINKER_MOCK_LLM=1)")
	}
	return openrouter.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
}
