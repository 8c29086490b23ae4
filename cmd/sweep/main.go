package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"ticketing/internal/app"
	intconfig "ticketing/internal/config"
	"ticketing/internal/utils"
)

func main() {
	var (
		at      = pflag.String("at", "", "sweep as of this RFC3339 time (default: now)")
		batch   = pflag.Int("batch", 0, "tickets per batch (default: SWEEP_BATCH)")
		timeout = pflag.Duration("timeout", 5*time.Minute, "abort the sweep after this long")
	)
	pflag.Parse()

	env, err := intconfig.LoadEnv()
	if err != nil {
		log.Fatalf("%v", err)
	}
	now, err := utils.ParseTimestamp(*at)
	if err != nil {
		log.Fatalf("invalid --at: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.Build(ctx, env)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	svc := a.Tickets
	svc.RequestID = "cli-sweep"
	if *batch > 0 {
		svc.SweepBatch = *batch
	}
	n, err := svc.SweepExpired(ctx, now)
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed after %d tickets: %v\n", n, err)
		os.Exit(1)
	}
	fmt.Printf("expired %d tickets\n", n)
}
