package recurring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartLoop runs the processor on a fixed interval until stop is closed.
// The first run fires after one interval, not immediately; use Run directly
// (or the run-now endpoint) to process on demand.
func (p *Processor) StartLoop(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := p.Run(context.Background()); err != nil {
					p.logger.Error("recurring run failed", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
}
