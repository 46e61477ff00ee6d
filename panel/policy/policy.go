// Package policy holds the quota and warning decision logic. It is pure: the
// lifecycle manager feeds it counters and applies whatever it decides.
package policy

import (
	"fmt"
	"time"
)

const (
	// Fixed conversion constants, not configuration.
	SecondsPerDay = 86400
	BytesPerGiB   = int64(1) << 30

	// Warning ladder. The third warning and beyond block permanently.
	FirstWarningBlock  = 24 * time.Hour
	SecondWarningBlock = 7 * 24 * time.Hour
)

type Action int

const (
	NoAction Action = iota
	AutoBlock
	Escalate
)

// Decision is what the policy wants done to the subscriber.
type Decision struct {
	Action        Action
	Reason        string
	WarningsCount int
	// BlockDuration is nil for a permanent block; the caller uses it to
	// schedule an automatic unblock for temporary ones.
	BlockDuration *time.Duration
}

// EvaluateUsage decides whether the consumed counter breaches the ceiling.
// A non-positive limit means unlimited. Quota breaches block regardless of the
// warning ladder and never touch the warning count.
func EvaluateUsage(usedBytes, limitBytes int64) Decision {
	if limitBytes > 0 && usedBytes >= limitBytes {
		return Decision{
			Action: AutoBlock,
			Reason: "Traffic limit exceeded",
		}
	}
	return Decision{Action: NoAction}
}

// EvaluateWarning advances the warning ladder for a subscriber that currently
// has currentWarnings recorded. Every warning blocks; the duration grows with
// the count until the block becomes permanent.
func EvaluateWarning(currentWarnings int, reason string) Decision {
	count := currentWarnings + 1

	var dur *time.Duration
	var tier string
	switch count {
	case 1:
		d := FirstWarningBlock
		dur = &d
		tier = "blocked for 24 hours"
	case 2:
		d := SecondWarningBlock
		dur = &d
		tier = "blocked for 7 days"
	default:
		tier = "blocked permanently"
	}

	return Decision{
		Action:        Escalate,
		Reason:        fmt.Sprintf("Warning %d: %s (%s)", count, reason, tier),
		WarningsCount: count,
		BlockDuration: dur,
	}
}
