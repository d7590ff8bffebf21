package player

import (
	"time"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

// LatencyMode controls how a replayed response's delay is computed,
// generalizing go-vcr's binary Recorder.skipRequestLatency flag into
// four explicit modes.
type LatencyMode int

const (
	// LatencyNone never delays a replayed response.
	LatencyNone LatencyMode = iota
	// LatencyRecorded replays the interaction's observed response time,
	// or zero if it was not recorded. Closest analog to go-vcr's
	// !skipRequestLatency behavior.
	LatencyRecorded
	// LatencyFixed applies a constant configured delay to every replay.
	LatencyFixed
	// LatencyScaled multiplies the recorded latency by a percentage.
	LatencyScaled
)

// LatencyConfig pairs a mode with the parameters it needs.
type LatencyConfig struct {
	Mode LatencyMode

	// FixedMs is used when Mode == LatencyFixed.
	FixedMs int64

	// ScalePercent is used when Mode == LatencyScaled; 100 means no
	// change, 50 means half the recorded latency.
	ScalePercent int64
}

// Delay computes the simulated delay for interaction under cfg.
func (cfg LatencyConfig) Delay(interaction *cassette.Interaction) time.Duration {
	switch cfg.Mode {
	case LatencyNone:
		return 0
	case LatencyRecorded:
		if interaction.ResponseTimeMs == nil {
			return 0
		}
		return time.Duration(*interaction.ResponseTimeMs) * time.Millisecond
	case LatencyFixed:
		return time.Duration(cfg.FixedMs) * time.Millisecond
	case LatencyScaled:
		if interaction.ResponseTimeMs == nil {
			return 0
		}
		scaled := *interaction.ResponseTimeMs * cfg.ScalePercent / 100
		return time.Duration(scaled) * time.Millisecond
	default:
		return 0
	}
}
