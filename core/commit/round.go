package commit

import "time"

// Strategy selects the commit protocol a round runs.
type Strategy int

const (
	OnePhase Strategy = iota
	TwoPhase
)

func (s Strategy) String() string {
	if s == TwoPhase {
		return "two-phase"
	}
	return "one-phase"
}

// Status is the transaction-wide state of a commit round.
type Status int

const (
	StatusNotStarted Status = iota
	StatusPrepared          // two-phase only
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not started"
	case StatusPrepared:
		return "prepared"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Reason explains why a round ended the way it did.
type Reason int

const (
	ReasonNone           Reason = iota
	ReasonNoParticipants        // empty round, aborted with a warning
	ReasonNegativeVote          // at least one participant voted abort / not ready
)

func (r Reason) String() string {
	switch r {
	case ReasonNoParticipants:
		return "no participants"
	case ReasonNegativeVote:
		return "negative vote"
	default:
		return "none"
	}
}

// Vote is one entry of a round's audit log.
type Vote struct {
	Participant string
	Decision    Decision
}

// Round is the outcome of one commit attempt. Votes and Committed are in the
// order participants were added to the coordinator.
type Round struct {
	ID       string
	Strategy Strategy
	Status   Status
	Reason   Reason
	Votes    []Vote
	// Committed lists the participants that received CommitLocally or Apply.
	Committed []string
	// Aborted lists the participants that received AbortLocally or Discard.
	Aborted  []string
	Started  time.Time
	Duration time.Duration
}

// Unanimous reports whether at least one participant voted and every vote
// was affirmative.
func (r *Round) Unanimous() bool {
	if len(r.Votes) == 0 {
		return false
	}
	for _, v := range r.Votes {
		if v.Decision != Affirmative {
			return false
		}
	}
	return true
}
