package ports

import (
	"context"

	"intradayBot/internal/domain"
)

// BarSource supplies pre-loaded historical bars for a simulation window.
// Implementations must return each ticker's bars in increasing timestamp order.
type BarSource interface {
	// LoadBars returns all bars grouped by ticker.
	LoadBars(ctx context.Context) (map[string][]*domain.Bar, error)
}
