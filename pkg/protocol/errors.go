package protocol

// Error codes surfaced to clients. Only persistence and total model
// unavailability become user-visible errors; everything else degrades.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnavailable    = "UNAVAILABLE"
	ErrModelTimeout   = "MODEL_TIMEOUT"
	ErrTurnLimit      = "TURN_LIMIT_EXCEEDED"
	ErrPersistence    = "PERSISTENCE_FAILURE"
	ErrInternal       = "INTERNAL"
)
