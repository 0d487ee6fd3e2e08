package types

import "errors"

// Sentinel errors for the execution pipeline.
var (
	// Admission errors
	ErrRiskRejected      = errors.New("order rejected by risk gate")
	ErrCircuitBreakerOn  = errors.New("circuit breaker active")
	ErrRateLimitExceeded = errors.New("order rate limit exceeded")

	// Order book errors
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrCrossedUpdate         = errors.New("update would cross the book")
	ErrUnknownSymbol         = errors.New("unknown symbol")
	ErrEmptyBook             = errors.New("order book empty")

	// Ledger errors
	ErrInvalidSize   = errors.New("size must be positive")
	ErrInvalidPrice  = errors.New("price must be positive")
	ErrPositionLimit = errors.New("position limit exceeded")
	ErrExposureLimit = errors.New("total exposure limit exceeded")
	ErrUnknownAgent  = errors.New("unknown agent")

	// Scheduling errors
	ErrNoStrategy    = errors.New("no strategy registered for algorithm")
	ErrEmptySchedule = errors.New("schedule contains no slices")
	ErrInvalidOrder  = errors.New("invalid order")

	// Routing errors
	ErrNoVenues                 = errors.New("no venues available")
	ErrExecutionFailedAllVenues = errors.New("execution failed on all venues")
	ErrRetryBudgetExhausted     = errors.New("retry budget exhausted")
	ErrVenueUnavailable         = errors.New("venue unavailable")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
