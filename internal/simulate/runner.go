package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/readyroom/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run executes a complete simulation and returns its statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	log := logger.Get().Named("simulate")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting readyroom simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("participants", config.Participants),
		logger.Int("rooms", config.Rooms),
		logger.Int("workers", config.Workers),
		logger.Float64("leaveRatio", config.LeaveRatio),
		logger.Duration("timeout", config.Timeout))

	client := newHTTPClient(config.BaseURL, config.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	results := runParticipants(ctx, config, client, log)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	summarize(results, stats)

	if config.OutputFile != "" {
		if err := saveResults(config.OutputFile, results); err != nil {
			log.Warn(ctx, "failed to save results", logger.Error(err))
		} else {
			log.Info(ctx, "results saved to file", logger.String("filename", config.OutputFile))
		}
	}

	displayFinalStats(ctx, log, stats)
	if stats.Opened == 0 && config.Participants > 0 {
		return stats, fmt.Errorf("no session could be opened")
	}
	return stats, nil
}

// runParticipants runs every participant through a bounded worker pool.
func runParticipants(ctx context.Context, config *Config, client *HTTPClient, log logger.Logger) []Result {
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}
	frame := syntheticFrame()
	results := make([]Result, config.Participants)
	jobs := make(chan int, workers*WorkerChannelMultiplier)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p := &participant{
					index:  i,
					cfg:    config,
					client: client,
					leave:  rand.Float64() < config.LeaveRatio,
					frame:  frame,
					log:    log,
				}
				results[i] = p.run(ctx)
				if config.Verbose {
					r := results[i]
					log.Info(ctx, "participant finished",
						logger.Int("participant", i),
						logger.String("session_id", r.SessionID),
						logger.String("outcome", string(r.Outcome)),
						logger.Int("starts", r.Starts),
						logger.Duration("duration", r.Duration),
						logger.String("error", r.Error))
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < config.Participants; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	wg.Wait()
	return results
}

// saveResults writes one JSON object per line.
func saveResults(filename string, results []Result) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	enc := json.NewEncoder(file)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write participant %d: %w", r.Participant, err)
		}
	}
	return nil
}
