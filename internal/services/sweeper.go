package services

import (
	"context"
	"fmt"
	"time"

	"ticketing/internal/utils"
)

// Sweeper runs SweepExpired on a fixed interval until ctx is done.
type Sweeper struct {
	Tickets  TicketService
	Interval time.Duration
}

func (s Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	utils.LogEvent("", "sweep", "start", "interval="+interval.String())
	for {
		select {
		case <-ctx.Done():
			utils.LogEvent("", "sweep", "stop", "context done")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s Sweeper) runOnce(ctx context.Context) int {
	n, err := s.Tickets.SweepExpired(ctx, time.Time{})
	if err != nil && ctx.Err() == nil {
		utils.LogEvent("", "sweep", "run", fmt.Sprintf("expired=%d error=%v", n, err))
	}
	return n
}
