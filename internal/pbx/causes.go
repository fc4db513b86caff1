package pbx

import (
	"time"

	"omnidesk/internal/calls"
)

// Hangup cause codes follow Q.850 as emitted by the PBX.
const (
	causeNormalClearing = 16
	causeUserBusy       = 17
	causeNoAnswer       = 18
	causeNoUserResponse = 19
	causeCallRejected   = 21
)

// answeredThreshold separates a real conversation from a hangup-on-ring under
// normal clearing: anything at or under it counts as missed.
const answeredThreshold = 2 * time.Second

// classifyHangup maps (cause, duration) to the final call status.
func classifyHangup(cause int, duration time.Duration) calls.Status {
	switch cause {
	case causeUserBusy:
		return calls.StatusBusy
	case causeCallRejected:
		return calls.StatusRejected
	case causeNoAnswer, causeNoUserResponse:
		return calls.StatusMissed
	case causeNormalClearing:
		if duration > answeredThreshold {
			return calls.StatusAnswered
		}
		return calls.StatusMissed
	default:
		if duration > answeredThreshold {
			return calls.StatusAnswered
		}
		return calls.StatusMissed
	}
}
