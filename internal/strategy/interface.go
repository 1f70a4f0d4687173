package strategy

import (
	"coin-trader/internal/model"
)

// Signal decides entries for one augmented candle. Implementations hold no per-candle state.
type Signal interface {
	Name() string
	Ready(candle model.Candle) bool
	ShouldEnter(candle model.Candle) bool
}
