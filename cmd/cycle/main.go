// Command cycle runs one ingestion cycle, rescoring pass or prediction pass
// and prints the JSON summary. Schedulers invoke it once per run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/stwalsh4118/parcelheat/internal/app"
	"github.com/stwalsh4118/parcelheat/internal/config"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/services"
)

const (
	taskCycle   = "cycle"
	taskRescore = "rescore"
	taskPredict = "predict"
)

// Exit codes distinguish bad invocations from an unreachable store so a
// scheduler can tell whether retrying helps.
const (
	exitOK = iota
	exitFailure
	exitUsage
	exitStoreUnavailable
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		counties = flag.String("counties", "", "comma-separated counties to target (required for -task cycle)")
		mode     = flag.String("mode", string(services.ModeAll), "adapter selection: narrow, broad or all")
		task     = flag.String("task", taskCycle, "what to run: cycle, rescore or predict")
		actor    = flag.String("actor", string(models.ActorSystem), "actor recorded in the audit log")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitUsage
	}

	log := logger.New(cfg.Server.Env).WithComponent("cycle-cli")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialise pipeline", err, nil)
		return buildExitCode(err)
	}
	defer a.Close()

	targets := splitCounties(*counties)
	who := models.Actor(*actor)

	var result interface{}
	switch *task {
	case taskCycle:
		m, err := services.ParseCycleMode(*mode)
		if err != nil {
			log.Error("Invalid mode", err, nil)
			return exitUsage
		}
		result, err = a.Cycles.Run(ctx, who, services.CycleRequest{Mode: m, Counties: targets})
		if err != nil {
			return exitCode(log, err)
		}
	case taskRescore:
		result, err = a.Scoring.RescoreAll(ctx, who, targets, a.Clock.Now())
		if err != nil {
			return exitCode(log, err)
		}
	case taskPredict:
		result, err = a.Prediction.PredictAll(ctx, who, targets, a.Clock.Now())
		if err != nil {
			return exitCode(log, err)
		}
	default:
		log.Error("Unknown task", fmt.Errorf("task %q", *task), map[string]interface{}{
			"tasks": []string{taskCycle, taskRescore, taskPredict},
		})
		return exitUsage
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Error("Failed to write summary", err, nil)
		return exitFailure
	}
	return exitOK
}

func exitCode(log *logger.Logger, err error) int {
	log.Error("Run failed", err, nil)
	switch {
	case errors.Is(err, services.ErrInvalidSchedule):
		return exitUsage
	case errors.Is(err, services.ErrStoreUnavailable):
		return exitStoreUnavailable
	default:
		return exitFailure
	}
}

// buildExitCode separates configuration mistakes from a store that could
// not be reached.
func buildExitCode(err error) int {
	if errors.Is(err, app.ErrInvalidConfig) {
		return exitUsage
	}
	return exitStoreUnavailable
}

func splitCounties(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
