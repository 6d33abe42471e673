package simulate

import (
	"context"
	"slices"
	"time"

	"github.com/okian/readyroom/pkg/logger"
)

// summarize folds participant results into stats.
func summarize(results []Result, stats *Stats) {
	var ready, sessions []time.Duration
	for _, r := range results {
		if r.SessionID == "" {
			stats.Failed++
			continue
		}
		stats.Opened++
		stats.Starts += r.Starts
		switch r.Outcome {
		case OutcomeCommitted:
			stats.Committed++
		case OutcomeLeft:
			stats.Left++
		default:
			stats.Failed++
		}
		if r.ReadyAfter > 0 {
			ready = append(ready, r.ReadyAfter)
		}
		sessions = append(sessions, r.Duration)
	}
	stats.ReadyP50, stats.ReadyP95 = percentile(ready, 50), percentile(ready, 95)
	stats.SessionP50, stats.SessionP95 = percentile(sessions, 50), percentile(sessions, 95)
}

// percentile returns the nearest-rank percentile of ds.
func percentile(ds []time.Duration, p int) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	rank := (p*len(sorted) + PercentageMultiplier - 1) / PercentageMultiplier
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var commitRate float64
	if stats.Opened > 0 {
		commitRate = float64(stats.Committed) / float64(stats.Opened) * PercentageMultiplier
	}
	log.Info(ctx, "final statistics",
		logger.Int("opened", stats.Opened),
		logger.Int("committed", stats.Committed),
		logger.Int("left", stats.Left),
		logger.Int("failed", stats.Failed),
		logger.Int("starts", stats.Starts),
		logger.Float64("commitRate", commitRate),
		logger.Duration("readyP50", stats.ReadyP50),
		logger.Duration("readyP95", stats.ReadyP95),
		logger.Duration("sessionP50", stats.SessionP50),
		logger.Duration("sessionP95", stats.SessionP95),
		logger.Duration("duration", stats.Duration))
}
