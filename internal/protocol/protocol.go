// Package protocol interprets inbound server messages and applies them to the
// session state.
package protocol

import (
	"github.com/manash/maskopt/internal/metrics"
	"github.com/manash/maskopt/pkg/models"
)

// Decision is the effect a message has on the session, computed without
// touching any state.
type Decision struct {
	// NumUsers is set when the message carries a connected-user count.
	NumUsers *int
	// Store means the message's image replaces the latest result.
	Store bool
	// Complete means the stream reached num_iterations and the session pauses.
	Complete bool
	// Outcome labels the decision for logs and metrics.
	Outcome string
	// Err is set when an image would be stored but its progress counters are
	// unusable. The image is dropped; the user count still applies.
	Err error
}

// Decide maps the current phase and a parsed message to its effect. User
// counts always apply; images apply only while optimizing, anything else is
// a stale message from a run the client already left.
func Decide(phase models.Phase, msg *models.Message) Decision {
	d := Decision{NumUsers: msg.NumUsers}

	if phase != models.PhaseOptimizing {
		if msg.HasImage() {
			d.Outcome = metrics.OutcomeStale
		} else {
			d.Outcome = metrics.OutcomeIgnored
		}
		return d
	}

	if !msg.HasImage() {
		d.Outcome = metrics.OutcomeNoImage
		return d
	}

	if err := msg.ValidateProgress(); err != nil {
		d.Outcome = metrics.OutcomeMalformed
		d.Err = err
		return d
	}

	d.Store = true
	d.Complete = *msg.Step == *msg.NumIterations
	if d.Complete {
		d.Outcome = metrics.OutcomeCompleted
	} else {
		d.Outcome = metrics.OutcomeApplied
	}
	return d
}
