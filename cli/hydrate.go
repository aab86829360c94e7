package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/petal-labs/scribe/agent"
	"github.com/petal-labs/scribe/config"
	"github.com/petal-labs/scribe/gateway"
	"github.com/petal-labs/scribe/history"
	scribeotel "github.com/petal-labs/scribe/otel"
	"github.com/petal-labs/scribe/tool"
	"github.com/petal-labs/scribe/tool/mcp"
)

// runtimeComponents holds everything a command needs to drive the loop, plus
// the teardown that must run on every exit path.
type runtimeComponents struct {
	agent    *agent.Agent
	shutdown func(context.Context)
}

// buildRuntime hydrates the agent loop from configuration: gateway, tool
// transport, dispatcher, journal, and telemetry handlers.
func buildRuntime(ctx context.Context, cfg config.File, logger *slog.Logger) (*runtimeComponents, error) {
	gatewayClient, err := buildGateway(cfg.Model)
	if err != nil {
		return nil, err
	}

	var teardown []func(context.Context)
	shutdown := func(shutdownCtx context.Context) {
		// Reverse order: telemetry last so teardown spans still export.
		for i := len(teardown) - 1; i >= 0; i-- {
			teardown[i](shutdownCtx)
		}
	}
	fail := func(err error) (*runtimeComponents, error) {
		shutdown(context.Background())
		return nil, err
	}

	var remote tool.RemoteCaller
	if strings.TrimSpace(cfg.ToolServer.Command) != "" {
		transport := mcp.NewStdioTransport(mcp.StdioTransportConfig{
			Command:     cfg.ToolServer.Command,
			Args:        cfg.ToolServer.Args,
			Env:         cfg.ToolServer.Env,
			Warmup:      cfg.ToolServer.Warmup(),
			CallTimeout: cfg.ToolServer.CallTimeout(),
			Logger:      logger,
		})
		teardown = append(teardown, func(shutdownCtx context.Context) {
			if err := transport.Close(shutdownCtx); err != nil {
				logger.Warn("tool server teardown failed", "error", err)
			}
		})
		if err := transport.Init(ctx); err != nil {
			return fail(fmt.Errorf("starting tool server: %w", err))
		}
		remote = transport
	}

	dispatcher := tool.NewDispatcher(tool.DispatcherConfig{
		Remote:        remote,
		WorkspaceRoot: cfg.Agent.WorkspaceRoot,
		Logger:        logger,
	})

	var handlers []agent.Handler
	if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) != "" {
		otelShutdown, err := scribeotel.Setup(ctx, scribeotel.ExporterConfig{
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			return fail(fmt.Errorf("setting up telemetry: %w", err))
		}
		teardown = append(teardown, func(shutdownCtx context.Context) {
			if err := otelShutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		})
		handlers = append(handlers, scribeotel.NewTracingHandler(otel.Tracer("scribe")))

		metricsHandler, err := scribeotel.NewMetricsHandler(otel.Meter("scribe"))
		if err != nil {
			return fail(fmt.Errorf("setting up metrics: %w", err))
		}
		handlers = append(handlers, metricsHandler)
	}
	if strings.TrimSpace(cfg.History.Path) != "" {
		store, err := history.NewSQLiteStore(history.SQLiteStoreConfig{
			DSN:          cfg.History.Path,
			RetentionAge: cfg.History.RetentionAge(),
			Logger:       logger,
		})
		if err != nil {
			return fail(fmt.Errorf("opening iteration journal: %w", err))
		}
		teardown = append(teardown, func(context.Context) {
			if err := store.Close(); err != nil {
				logger.Warn("iteration journal close failed", "error", err)
			}
		})
		handlers = append(handlers, store)
	}

	loopAgent, err := agent.New(agent.Config{
		Gateway:       gatewayClient,
		Dispatcher:    dispatcher,
		Context:       cfg.Agent.Context,
		AppendResults: cfg.Agent.AppendResults,
		Handlers:      handlers,
		Logger:        logger,
	})
	if err != nil {
		return fail(err)
	}

	return &runtimeComponents{agent: loopAgent, shutdown: shutdown}, nil
}

func buildGateway(cfg config.ModelConfig) (gateway.Client, error) {
	if cfg.Provider == "ollama" {
		return gateway.NewOllamaClient(gateway.OllamaConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Name,
			Timeout:  cfg.ModelTimeout(),
		}), nil
	}
	return gateway.NewIrisClient(cfg.Provider, cfg.APIKey, cfg.Name)
}

// loadConfig discovers and loads configuration for a command.
func loadConfig(explicitPath string) (config.File, error) {
	path, found, err := config.Discover(explicitPath)
	if err != nil {
		return config.File{}, err
	}
	if !found {
		// No file anywhere: run against the local default endpoint.
		return config.File{Model: config.ModelConfig{Provider: "ollama"}}, nil
	}
	return config.Load(path)
}
