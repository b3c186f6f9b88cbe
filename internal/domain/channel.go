package domain

import "context"

// ChannelConfig holds the per-source trading parameters.
type ChannelConfig struct {
	ID              string
	Name            string
	Match           []string // lower-case substrings matched against the channel name
	AllocationSOL   float64
	TakeProfitPct   *float64
	StopLossPct     *float64
	TrailingStopPct *float64
	MaxHoldMinutes  int
	AutoSellEnabled bool
}

// ChannelDirectory resolves the config that applies to a signal source.
type ChannelDirectory interface {
	Resolve(ctx context.Context, channelID string) (ChannelConfig, error)
}
