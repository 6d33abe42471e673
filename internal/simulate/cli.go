package simulate

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/readyroom/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging logs to stdout and, when logFile is set, to that file too.
// The returned func closes the file.
func SetupLogging(logFile string, verbose bool) (func(), error) {
	var out io.Writer = os.Stdout
	closeFn := func() {}
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = func() { _ = file.Close() }
	}
	if err := logger.Init(logger.WithOutput(out)); err != nil {
		closeFn()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return closeFn, nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`readyroom session simulator
===========================

Drives concurrent participants through the waiting room: open a session,
stream synthetic camera frames, start the face capture once every resource
is ready, and verify the handoff. A share of participants leaves instead.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -participants int
        Number of simulated participants (default 200)
  -rooms int
        Distinct room ids shared round robin (default 50)
  -workers int
        Number of concurrent participants (default CPU cores * 2)
  -interviewer string
        Interviewer every participant selects (default "Jun")
  -leave float
        Share of participants that leave instead of starting (default 0.1)
  -fps float
        Frames per second per participant (default 10)
  -timeout duration
        HTTP request timeout (default 10s)
  -session-limit duration
        Upper bound for one participant's flow (default 1m)
  -output string
        Write per-participant results as JSON lines
  -log string
        Also write logs to this file
  -verbose
        Log every participant
  -help
        Show this help message
`)
}
