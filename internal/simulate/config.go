package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Participants int           // Number of simulated participants
	Rooms        int           // Distinct room ids; participants share rooms round robin
	Workers      int           // Number of concurrent participants
	Interviewer  string        // Interviewer every participant selects
	LeaveRatio   float64       // Share of participants that leave instead of starting
	FrameRate    float64       // Frames per second each participant pushes
	Timeout      time.Duration // HTTP request timeout
	SessionLimit time.Duration // Upper bound for one participant's whole flow
	OutputFile   string        // Output file for per-participant results
	LogFile      string        // Log file for test output
	Verbose      bool          // Enable verbose logging
}

// Outcome classifies how a participant's session ended.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeLeft      Outcome = "left"
	OutcomeFailed    Outcome = "failed"
)

// Result is one participant's run.
type Result struct {
	Participant int           `json:"participant"`
	SessionID   string        `json:"session_id"`
	RoomID      string        `json:"room_id"`
	Outcome     Outcome       `json:"outcome"`
	Starts      int           `json:"starts"`
	Notices     int           `json:"notices"`
	ReadyAfter  time.Duration `json:"ready_after_ns"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

// view mirrors the session view returned by the API.
type view struct {
	SessionID    string `json:"session_id"`
	RoomID       string `json:"room_id"`
	Interviewer  string `json:"interviewer"`
	Phase        string `json:"phase"`
	StartEnabled bool   `json:"start_enabled"`
}

// notice mirrors a websocket notice.
type notice struct {
	Kind         string `json:"kind"`
	Phase        string `json:"phase"`
	StartEnabled bool   `json:"start_enabled"`
	Message      string `json:"message"`
	Path         string `json:"path"`
}

// handoffBody mirrors the published handoff.
type handoffBody struct {
	SessionID   string `json:"session_id"`
	Interviewer string `json:"interviewer"`
	NextProcess string `json:"next_process"`
	Speech      *struct {
		Token string `json:"token"`
	} `json:"speech"`
}

// Stats holds run statistics.
type Stats struct {
	Opened     int
	Committed  int
	Left       int
	Failed     int
	Starts     int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	ReadyP50   time.Duration
	ReadyP95   time.Duration
	SessionP50 time.Duration
	SessionP95 time.Duration
}
