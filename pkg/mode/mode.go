// Package mode implements the proxy's seven-mode decision table. It
// generalizes go-vcr's recorder.Mode enum (ModeRecordOnly, ModeReplayOnly,
// ModeReplayWithNewEpisodes, ModeRecordOnce, ModePassthrough) into the
// wider Record/Replay/ReplayStrict/Auto/Hybrid/Once/Passthrough table.
package mode

import "fmt"

// Mode is a per-proxy property consulted on every request.
type Mode int

const (
	// Record always forwards upstream and appends the result, overwrite
	// semantics regardless of whether a match already exists. Direct
	// descendant of go-vcr's ModeRecordOnly.
	Record Mode = iota

	// Replay returns the recorded response on a match and a 404 miss
	// otherwise. go-vcr's ModeReplayOnly.
	Replay

	// ReplayStrict behaves like Replay but a miss is treated as an
	// overall test failure by the caller, not a recoverable 404. New:
	// go-vcr has no "no silent bypass" mode.
	ReplayStrict

	// Auto replays on a match and forwards+records on a miss. New:
	// closest go-vcr analog is ModeReplayWithNewEpisodes. Nothing checks
	// whether the cassette file existed before the session.
	Auto

	// Hybrid makes exactly the same decisions as Auto; the two modes are
	// not distinguished by the engine or the CLI. New mode; no go-vcr
	// equivalent.
	Hybrid

	// Once replays on a match; on a miss it records only if the
	// cassette file did not exist at the start of the session,
	// otherwise it 404s with no new writes. Direct descendant of
	// go-vcr's ModeRecordOnce && !cassetteExists guard.
	Once

	// Passthrough forwards upstream and never touches a cassette.
	// go-vcr's ModePassthrough.
	Passthrough
)

// String renders the mode's canonical lowercase name, used in
// configuration and logs.
func (m Mode) String() string {
	switch m {
	case Record:
		return "record"
	case Replay:
		return "replay"
	case ReplayStrict:
		return "replay-strict"
	case Auto:
		return "auto"
	case Hybrid:
		return "hybrid"
	case Once:
		return "once"
	case Passthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Parse converts a configuration string into a Mode.
func Parse(s string) (Mode, error) {
	switch s {
	case "record":
		return Record, nil
	case "replay":
		return Replay, nil
	case "replay-strict", "replaystrict":
		return ReplayStrict, nil
	case "auto":
		return Auto, nil
	case "hybrid":
		return Hybrid, nil
	case "once":
		return Once, nil
	case "passthrough":
		return Passthrough, nil
	default:
		return 0, fmt.Errorf("mode: unknown mode %q", s)
	}
}

// Action is the per-request decision an Engine hands back to the proxy.
type Action int

const (
	// ActionReplay means serve the matched recorded response.
	ActionReplay Action = iota
	// ActionForward means hit upstream without touching the cassette.
	ActionForward
	// ActionForwardAndRecord means hit upstream then append the result.
	ActionForwardAndRecord
	// ActionMiss means return a synthetic 404; no upstream call is made.
	ActionMiss
	// ActionMissStrict is ActionMiss, additionally flagged as a
	// hard failure rather than a recoverable miss (ReplayStrict only).
	ActionMissStrict
)

// Decision is the resolved Action plus the reason it was chosen, useful
// for logging and for the player/recorder wiring that acts on it.
type Decision struct {
	Action Action
	Reason string
}

// Engine evaluates Mode against whether a request matched the active
// cassette, returning the action the proxy must take. Engine itself is immutable/stateless; CassetteExisted is
// passed in per call because it depends on session start-up state the
// proxy tracks, not on the mode.
type Engine struct {
	Mode Mode
}

// NewEngine constructs an Engine for m.
func NewEngine(m Mode) Engine {
	return Engine{Mode: m}
}

// Decide resolves the action for a single request given whether it
// matched the active cassette (matched) and, for Once, whether the
// cassette file pre-existed the current recording session
// (cassetteExisted).
func (e Engine) Decide(matched bool, cassetteExisted bool) Decision {
	switch e.Mode {
	case Record:
		if matched {
			return Decision{ActionForwardAndRecord, "record mode overwrites on every request"}
		}
		return Decision{ActionForwardAndRecord, "record mode appends new interactions"}

	case Replay:
		if matched {
			return Decision{ActionReplay, "matched recorded interaction"}
		}
		return Decision{ActionMiss, "no matching interaction in replay mode"}

	case ReplayStrict:
		if matched {
			return Decision{ActionReplay, "matched recorded interaction"}
		}
		return Decision{ActionMissStrict, "no matching interaction in replay-strict mode"}

	case Auto, Hybrid:
		if matched {
			return Decision{ActionReplay, "matched recorded interaction"}
		}
		return Decision{ActionForwardAndRecord, "no match, recording new episode"}

	case Once:
		if matched {
			return Decision{ActionReplay, "matched recorded interaction"}
		}
		if cassetteExisted {
			return Decision{ActionMiss, "cassette pre-existed, once mode refuses new writes"}
		}
		return Decision{ActionForwardAndRecord, "cassette is new, once mode records initial episodes"}

	case Passthrough:
		return Decision{ActionForward, "passthrough never touches a cassette"}

	default:
		return Decision{ActionMiss, "unrecognized mode"}
	}
}

// RequiresCassette reports whether this mode needs an active cassette at
// all before a request can be evaluated (Passthrough does not).
func (m Mode) RequiresCassette() bool {
	return m != Passthrough
}

// IsReplayCapable reports whether this mode may ever serve a recorded
// response (used by the proxy to decide whether to attempt a match
// lookup at all).
func (m Mode) IsReplayCapable() bool {
	switch m {
	case Replay, ReplayStrict, Auto, Hybrid, Once:
		return true
	default:
		return false
	}
}

// IsRecordCapable reports whether this mode may ever append a new
// interaction.
func (m Mode) IsRecordCapable() bool {
	switch m {
	case Record, Auto, Hybrid, Once:
		return true
	default:
		return false
	}
}
