// artifact-sweep runs one batch correlation pass and prints the run summary.
//
// Usage (from backend directory, same env as the server):
//   go run ./cmd/artifact-sweep
//   go run ./cmd/artifact-sweep -limit 200 -timeout 10m
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/app"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
)

func main() {
	limit := flag.Int("limit", 0, "number of recent calls to inspect (default CORRELATION_SWEEP_LIMIT)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline for the sweep")
	flag.Parse()

	settings := config.LoadSettings()
	config.SetLogLevel(settings.LogLevel)
	if *limit > 0 {
		settings.Correlation.SweepLimit = *limit
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a, err := app.Build(ctx, settings, config.GetLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build dependencies: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	sum, err := a.Correlator.Sweep(ctx, models.CorrelationTriggeredCLI)
	out, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		a.Close()
		os.Exit(2)
	}
}
