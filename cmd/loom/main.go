package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loom/internal/approval"
	"loom/internal/budget"
	"loom/internal/chat"
	"loom/internal/checkpoint"
	"loom/internal/client"
	"loom/internal/config"
	"loom/internal/console"
	"loom/internal/logging"
	"loom/internal/mcp"
	"loom/internal/orchestrator"
	"loom/internal/tools"
)

var (
	version = "0.1.0"
	cfgFile string
	model   string
	autoOK  bool
	resume  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Conversational coding assistant with tool execution",
		Long: `Loom is an interactive assistant that streams model responses,
executes tools locally or through MCP servers, and keeps the
conversation within the model's context budget.`,
		RunE: run,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/loom/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use")
	rootCmd.Flags().BoolVar(&autoOK, "yes", false, "auto-approve all tool executions")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "resume the most recent session")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loom version %s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "models",
		Short: "List known models",
		Run: func(cmd *cobra.Command, args []string) {
			for _, m := range client.AvailableModels {
				fmt.Printf("%-22s %-10s %s\n", m.ID, m.Provider, m.Description)
			}
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if model != "" {
		cfg.Model.Name = model
	}

	if cfg.Logging.File {
		if err := os.MkdirAll(config.Dir(), 0o700); err == nil {
			if err := logging.EnableFileLogging(config.Dir(), logging.Level(cfg.Logging.Level)); err != nil {
				fmt.Fprintln(os.Stderr, "file logging disabled:", err)
			}
		}
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workDir := cfg.Tools.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	llm, err := client.New(ctx, client.Options{
		Model:           cfg.Model.Name,
		AnthropicAPIKey: cfg.API.AnthropicKey,
		AnthropicURL:    cfg.API.AnthropicURL,
		GeminiAPIKey:    cfg.API.GeminiKey,
		OllamaURL:       cfg.API.OllamaBaseURL,
		Temperature:     cfg.Model.Temperature,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
		Timeout:         cfg.API.Retry.HTTPTimeout,
		Retry: client.RetryConfig{
			MaxRetries: cfg.API.Retry.MaxRetries,
			RetryDelay: cfg.API.Retry.RetryDelay,
			MaxDelay:   cfg.API.Retry.MaxDelay,
		},
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer llm.Close()

	gateway := mcp.NewGateway(tools.DefaultRegistry(workDir))
	defer gateway.Close()
	gateway.ConnectAll(ctx, cfg.MCP.Servers)

	bm := budgetManager(cfg, llm)

	var store *chat.Store
	session := chat.NewSession(nil, workDir, cfg.Model.Name)
	if cfg.Session.Enabled {
		if store, err = chat.NewStore(); err != nil {
			fmt.Fprintln(os.Stderr, "session persistence disabled:", err)
		} else {
			go store.Prune(cfg.Session.MaxAge, cfg.Session.MaxCount)
		}
	}

	ui := console.New(gateway, store, session)

	gate := approval.NewGate(ui)
	if autoOK || cfg.Approval.AutoApprove {
		gate.SetAutoApprove(true)
	}

	orch := orchestrator.New(llm, gateway, gate, bm, orchestrator.Config{
		SystemPrompt: systemPrompt(workDir),
	})
	session.Log = orch.Log()

	if resume && store != nil {
		if prev, err := store.LoadLatest(); err == nil && prev != nil {
			orch.Log().Append(prev.Log.Messages()...)
			fmt.Printf("resumed session %s (%d messages)\n", prev.ID, prev.Log.Len())
		}
	}

	// A first ctrl-c interrupts the running turn; a second one, via the
	// signal context, ends the process.
	flag := &checkpoint.Flag{}
	orch.SetInterrupter(flag)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		for range sigs {
			flag.Raise()
			orch.Interrupt()
		}
	}()

	watcher, err := config.NewWatcher(path, func(next *config.Config) {
		if cfg.Approval.AutoApprove != next.Approval.AutoApprove {
			gate.SetAutoApprove(next.Approval.AutoApprove || autoOK)
		}
		cfg = next
	})
	if err == nil {
		defer watcher.Stop()
	}

	return ui.Run(ctx, orch)
}

// budgetManager builds the context budget from config, falling back to the
// model catalog for the window size.
func budgetManager(cfg *config.Config, llm client.Client) *budget.Manager {
	maxTokens := cfg.Context.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 32768
		if info, ok := client.LookupModel(cfg.Model.Name); ok {
			maxTokens = info.MaxContext
		}
	}

	b := budget.Budget{MaxContextTokens: maxTokens, TargetRatio: cfg.Context.TargetRatio}
	mode := budget.ModeDrop
	var summarizer budget.Summarizer
	if cfg.Context.TrimMode != "drop" {
		mode = budget.ModeSummarize
		summarizer = budget.NewClientSummarizer(llm)
	}
	return budget.NewManager(b, mode, summarizer)
}

func systemPrompt(workDir string) string {
	return fmt.Sprintf(`You are loom, a coding assistant running in a terminal.
Working directory: %s

Use the available tools to read, modify, and run code. Prefer small,
verifiable steps. When a tool fails, read the error and adjust instead of
repeating the same call. Reply concisely.`, workDir)
}
