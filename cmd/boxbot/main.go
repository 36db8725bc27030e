// Command boxbot runs the inventory chat assistant service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boxbot-dev/boxbot/internal/agent"
	"github.com/boxbot-dev/boxbot/internal/chat"
	"github.com/boxbot-dev/boxbot/internal/config"
	"github.com/boxbot-dev/boxbot/internal/inventory"
	"github.com/boxbot-dev/boxbot/internal/llm"
	"github.com/boxbot-dev/boxbot/internal/observability"
	"github.com/boxbot-dev/boxbot/internal/server"
	"github.com/boxbot-dev/boxbot/internal/tools"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boxbot",
		Short:         "Conversational assistant for your home inventory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "boxbot.yaml", "path to config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})

	var metrics *observability.Metrics
	if !cfg.Observability.DisableMetrics {
		metrics = observability.NewMetrics()
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "boxbot",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		Insecure:       cfg.Observability.Insecure,
	})
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	inv, err := inventory.NewClient(inventory.Config{
		BaseURL:          cfg.Inventory.BaseURL,
		Timeout:          cfg.Inventory.Timeout,
		MaxResponseBytes: cfg.Inventory.MaxResponseBytes,
	})
	if err != nil {
		return fmt.Errorf("inventory client: %w", err)
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	clientOpts := []llm.ClientOption{
		llm.WithLogger(logger),
		llm.WithMetrics(metrics),
		llm.WithTracer(tracer),
	}
	if cfg.LLM.UnsafeSkipCapabilityChecks {
		logger.Warn(ctx, "capability checks disabled; unsupported requests will fail at the provider")
		clientOpts = append(clientOpts, llm.WithoutCapabilityChecks())
	}
	llmClient := llm.NewClient(provider, llm.NewCapabilityStore(cfg.LLM.CapabilityTTL), clientOpts...)

	catalogOpts := []tools.CatalogOption{tools.WithSchemaTTL(cfg.Tools.SchemaTTL)}
	if cfg.Tools.CredentialParam != "" {
		catalogOpts = append(catalogOpts, tools.WithCredentialParam(cfg.Tools.CredentialParam))
	}
	catalog := tools.NewCatalog(catalogOpts...)
	tools.RegisterBuiltins(catalog)

	store := chat.NewStore(
		chat.WithSessionTTL(cfg.Session.TTL),
		chat.WithSweepInterval(cfg.Session.SweepInterval),
		chat.WithStoreMetrics(metrics),
	)

	orch := agent.NewOrchestrator(llmClient, catalog, inv, store, agent.OrchestratorConfig{
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
		MaxRounds:    cfg.LLM.MaxRounds,
		MaxHistory:   cfg.Session.MaxHistory,
		ApprovalTTL:  cfg.Approval.TTL,
	},
		agent.WithOrchestratorLogger(logger),
		agent.WithOrchestratorMetrics(metrics),
		agent.WithOrchestratorTracer(tracer),
	)

	approvals := agent.NewApprovalService(catalog, inv, store, logger, metrics)

	srv := server.New(cfg.Server, cfg.Auth, orch, approvals, logger, metrics, tracer)

	logger.Info(ctx, "starting boxbot",
		"version", version,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"tools", len(catalog.List()),
	)
	return srv.Run(ctx)
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "openai":
		provider, err := llm.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
