// Package worker runs background jobs next to the API server.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/creditgate/internal/service"
)

var pollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditgate_payment_poll_runs_total",
	Help: "Payment polling passes by result",
}, []string{"result"})

// Poller is the part of service.PaymentSync the worker needs.
type Poller interface {
	Poll(ctx context.Context, lookback time.Duration) (service.PollStats, error)
}

// RunPaymentPoller reconciles recently approved payments every interval until ctx is done.
// It backs up the webhook: a confirmation whose notification was lost is applied on the
// next pass, and replays are no-ops.
func RunPaymentPoller(ctx context.Context, p Poller, every, lookback time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log.Printf("payment poller started (every %s, lookback %s)", every, lookback)
	for {
		select {
		case <-ctx.Done():
			log.Printf("payment poller stopped")
			return
		case <-ticker.C:
			RunOnce(ctx, p, lookback)
		}
	}
}

// RunOnce performs a single pass and logs its stats.
func RunOnce(ctx context.Context, p Poller, lookback time.Duration) (service.PollStats, error) {
	st, err := p.Poll(ctx, lookback)
	if err != nil {
		pollRuns.WithLabelValues("error").Inc()
		log.Printf("payment poll: %s: %v", st, err)
		return st, err
	}
	pollRuns.WithLabelValues("ok").Inc()
	if st.Applied > 0 {
		log.Printf("payment poll: %s", st)
	}
	return st, nil
}
