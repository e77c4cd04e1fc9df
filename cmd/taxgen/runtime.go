package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"taxbench/internal/config"
	"taxbench/internal/logic"
	"taxbench/internal/mangle"
)

// commandContext is cancelled by SIGINT, SIGTERM or the --timeout flag.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// newEvaluator builds the configured logic backend under the retry and
// timeout wrapper.
func newEvaluator(lc config.LogicConfig) (logic.Evaluator, error) {
	var ev logic.Evaluator
	switch lc.Backend {
	case "prolog":
		p := &logic.Prolog{Binary: lc.PrologBinary, Program: lc.ProgramPath}
		if !p.Available() {
			return nil, fmt.Errorf("prolog backend: %w: %s not found", logic.ErrUnavailable, orDefault(lc.PrologBinary, "swipl"))
		}
		ev = p
	case "mangle", "":
		engine, err := mangle.NewEngine(lc.ProgramPath)
		if err != nil {
			return nil, fmt.Errorf("mangle backend: %w", err)
		}
		ev = engine
	default:
		return nil, fmt.Errorf("unknown logic backend %q", lc.Backend)
	}
	logger.Debug("logic backend ready",
		zap.String("backend", orDefault(lc.Backend, "mangle")),
		zap.Duration("timeout", lc.Timeout),
		zap.Int("retries", lc.Retries))
	return logic.WithRetry(orDefault(lc.Backend, "mangle"), ev, lc.Timeout, lc.Retries), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
