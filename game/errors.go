package game

import "errors"

// Validation outcomes. Handlers surface these as 400s with err.Error() as
// the message; call sites wrap them with the values that failed.
var (
	ErrInvalidSession          = errors.New("invalid session")
	ErrSessionNotActive        = errors.New("session is not active")
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrGameTooShort            = errors.New("game too short")
	ErrTooFewMoves             = errors.New("too few moves")
	ErrInvalidEventOrdering    = errors.New("invalid event ordering")
	ErrMoveTooFast             = errors.New("moves too fast")
	ErrScoreMismatch           = errors.New("score does not match food events")
	ErrUnrealisticFoodRate     = errors.New("unrealistic food rate")
	ErrSessionStillActive      = errors.New("session is still active")
	ErrScoreValidationMismatch = errors.New("score does not match validated score")
	ErrStaleSubmission         = errors.New("submission timestamp out of range")
	ErrNonceReused             = errors.New("nonce already used")
	ErrInvalidName             = errors.New("invalid name")
)

var (
	// ErrSessionNotFound is returned by session stores for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by SessionStore.Create for a duplicate id.
	ErrSessionExists    = errors.New("session already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRateLimited      = errors.New("too many requests")
)

var validationErrors = []error{
	ErrInvalidSession,
	ErrSessionNotActive,
	ErrInvalidSignature,
	ErrGameTooShort,
	ErrTooFewMoves,
	ErrInvalidEventOrdering,
	ErrMoveTooFast,
	ErrScoreMismatch,
	ErrUnrealisticFoodRate,
	ErrSessionStillActive,
	ErrScoreValidationMismatch,
	ErrStaleSubmission,
	ErrNonceReused,
	ErrInvalidName,
}

// IsValidationError reports whether err is an expected client-side failure
// rather than an infrastructure problem.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Code returns a stable identifier for err, used as a metric label and in logs.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrGameTooShort):
		return "game_too_short"
	case errors.Is(err, ErrTooFewMoves):
		return "too_few_moves"
	case errors.Is(err, ErrInvalidEventOrdering):
		return "invalid_event_ordering"
	case errors.Is(err, ErrMoveTooFast):
		return "move_too_fast"
	case errors.Is(err, ErrScoreMismatch):
		return "score_mismatch"
	case errors.Is(err, ErrUnrealisticFoodRate):
		return "unrealistic_food_rate"
	case errors.Is(err, ErrSessionStillActive):
		return "session_still_active"
	case errors.Is(err, ErrScoreValidationMismatch):
		return "score_validation_mismatch"
	case errors.Is(err, ErrStaleSubmission):
		return "stale_submission"
	case errors.Is(err, ErrNonceReused):
		return "nonce_reused"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
