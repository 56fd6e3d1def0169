package domain

import "errors"

var (
	// ErrMarketDataUnavailable signals a transient failure of the market
	// reference lookup. The session remains in the scoring state and the
	// next inbound event retries from the same stored attributes.
	ErrMarketDataUnavailable = errors.New("market data unavailable")

	// ErrConflict is returned by the session store when a save races with
	// a concurrent update. The caller reloads and reapplies.
	ErrConflict = errors.New("session version conflict")
)
