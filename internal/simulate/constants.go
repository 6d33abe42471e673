package simulate

import "time"

// Navigation targets announced by the service.
const (
	PathInterview = "/interview/ai"
	PathLobby     = "/lobby"
)

// Participant behaviour constants.
const (
	MaxStarts               = 3
	FrameWidth              = 64
	FrameHeight             = 48
	WorkerChannelMultiplier = 2
	PercentageMultiplier    = 100
)

// Runner defaults.
const (
	DefaultFrameRate    = 10
	DefaultSessionLimit = time.Minute
)
