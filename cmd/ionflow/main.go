package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/matgraph/ionflow/internal/compute"
	"github.com/matgraph/ionflow/internal/engine"
	"github.com/matgraph/ionflow/internal/expressions"
	"github.com/matgraph/ionflow/internal/insertion"
	"github.com/matgraph/ionflow/internal/logging"
	"github.com/matgraph/ionflow/internal/scheduler"
	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/internal/trace"
	"github.com/matgraph/ionflow/internal/validation"
	"github.com/matgraph/ionflow/pkg/mcp"
	"github.com/matgraph/ionflow/pkg/schema"
)

func main() {
	requestPath := flag.String("request", "", "path to an InsertionRequest JSON document; run it and exit")
	serveMCP := flag.Bool("mcp", false, "serve the MCP control surface on stdio")
	flag.Parse()

	cfg := loadConfig()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	st := store.NewMemoryStore()
	defer st.Close()

	exec := engine.NewExecutor(st, engine.Config{PoolSize: cfg.PoolSize}, logger)
	defer exec.Shutdown()

	cel, err := expressions.NewCELEngine()
	if err != nil {
		logger.Error("create CEL engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// The simulator stands in for a real DFT solver; swap these four
	// collaborators to drive an actual compute backend.
	sim := compute.NewSimEngine()
	flow := &insertion.Flow{
		Engine:      sim,
		Extractor:   &compute.SimExtractor{Engine: sim},
		Generator:   &compute.SimGenerator{},
		Equivalence: compute.CompositionEquivalence{},
		CEL:         cel,
		Expr:        expressions.NewExprEngine(),
		Logger:      logger,
	}
	svc := insertion.NewService(st, exec, flow, logger)

	validator, err := validation.NewRequestValidator()
	if err != nil {
		logger.Error("create request validator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tracer := trace.New(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *requestPath != "":
		if err := runOnce(ctx, svc, validator, *requestPath); err != nil {
			logger.Error("run failed", slog.String("error", err.Error()))
			os.Exit(1)
		}

	case *serveMCP:
		if cfg.Scheduler {
			sched := scheduler.New(st, scheduler.RunnerFunc(
				func(ctx context.Context, req *schema.InsertionRequest) error {
					_, err := svc.Run(ctx, req)
					return err
				}), logger)
			if err := sched.Start(ctx); err != nil {
				logger.Error("start scheduler", slog.String("error", err.Error()))
				os.Exit(1)
			}
			defer func() { _ = sched.Stop() }()
		}

		srv := mcp.NewIonflowServer(mcp.IonflowServerDeps{
			Service:   svc,
			Store:     st,
			Tracer:    tracer,
			Validator: validator,
			Logger:    logger,
		})
		if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("mcp server stopped", slog.String("error", err.Error()))
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runOnce executes a single insertion request from a file and prints the
// execution result as JSON on stdout.
func runOnce(ctx context.Context, svc *insertion.Service, validator *validation.RequestValidator, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	req, err := validator.ParseRequest(raw)
	if err != nil {
		return err
	}

	result, err := svc.Run(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}
