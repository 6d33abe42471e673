package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/readyroom/internal/simulate"
)

// Default configuration constants.
const (
	defaultParticipants = 200
	defaultRooms        = 50
	defaultWorkers      = 2 // multiplier for runtime.NumCPU()
	defaultTimeout      = 10 * time.Second
	defaultRunTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		participants = flag.Int("participants", defaultParticipants, "Number of simulated participants")
		rooms        = flag.Int("rooms", defaultRooms, "Distinct room ids shared round robin")
		workers      = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent participants")
		interviewer  = flag.String("interviewer", "Jun", "Interviewer every participant selects")
		leave        = flag.Float64("leave", 0.1, "Share of participants that leave instead of starting")
		fps          = flag.Float64("fps", simulate.DefaultFrameRate, "Frames per second per participant")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		sessionLimit = flag.Duration("session-limit", simulate.DefaultSessionLimit, "Upper bound for one participant's flow")
		outputFile   = flag.String("output", "", "Write per-participant results as JSON lines")
		logFile      = flag.String("log", "", "Also write logs to this file")
		verbose      = flag.Bool("verbose", false, "Log every participant")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	closeLog, err := simulate.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &simulate.Config{
		BaseURL:      *baseURL,
		Participants: *participants,
		Rooms:        *rooms,
		Workers:      *workers,
		Interviewer:  *interviewer,
		LeaveRatio:   *leave,
		FrameRate:    *fps,
		Timeout:      *timeout,
		SessionLimit: *sessionLimit,
		OutputFile:   *outputFile,
		LogFile:      *logFile,
		Verbose:      *verbose,
	}

	if _, err := simulate.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		closeLog()
		os.Exit(1)
	}
}
