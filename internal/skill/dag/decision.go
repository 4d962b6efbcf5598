package dag

import (
	"fmt"
	"time"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/identity"
)

// GateTier is spec.md §4.6.2's four-tier decision gate: a failed task
// consults exactly one tier, chosen by the DAG author at submission
// time, to decide what happens next.
type GateTier string

const (
	GateMechanical  GateTier = "Mechanical"
	GateRecommended GateTier = "Recommended"
	GateConfirmed   GateTier = "Confirmed"
	GateArbitrated  GateTier = "Arbitrated"
)

// DefaultAction is what Recommended applies once its timeout elapses
// without a human response.
type DefaultAction string

const (
	ActionRetry    DefaultAction = "retry"
	ActionSkip     DefaultAction = "skip"
	ActionRollback DefaultAction = "rollback"
)

// Gate configures one task's decision behavior on failure. Exactly one
// of the tier-specific fields is meaningful, selected by Tier.
type Gate struct {
	Tier GateTier

	// Mechanical
	RetryPolicy RetryPolicy

	// Recommended
	Timeout       time.Duration
	DefaultAction DefaultAction

	// Confirmed has no extra fields: it blocks indefinitely for a
	// human decision, delivered out of band via Resolve.

	// Arbitrated
	Stakeholders []string // DIDs whose signed votes are tallied
	Quorum       int       // votes required to reach a verdict
}

// Vote is one stakeholder's signed ballot on an Arbitrated task.
type Vote struct {
	VoterDID string
	Approve  bool
	Payload  []byte // canonical vote transcript that Signature covers
	Signature []byte
}

// Verify checks a vote's signature against the voter's known public
// signing key, mirroring identity.VerifyWithRawEd25519's
// use elsewhere in the module for out-of-band signed artifacts.
func (v Vote) Verify(voterSigningPub []byte) (bool, error) {
	return identity.VerifyWithRawEd25519(voterSigningPub, v.Payload, v.Signature)
}

// Ballot tallies Arbitrated votes for one task.
type Ballot struct {
	Gate  Gate
	Votes map[string]Vote // keyed by VoterDID, de-duplicating repeat votes
}

func NewBallot(g Gate) *Ballot {
	return &Ballot{Gate: g, Votes: make(map[string]Vote)}
}

// Cast records a verified vote. The caller must have already verified
// the vote's signature via Vote.Verify.
func (b *Ballot) Cast(v Vote) error {
	found := false
	for _, did := range b.Gate.Stakeholders {
		if did == v.VoterDID {
			found = true
			break
		}
	}
	if !found {
		return cerr.New(cerr.Permission, "dag.Ballot.Cast", fmt.Errorf("%q is not a stakeholder for this task", v.VoterDID))
	}
	b.Votes[v.VoterDID] = v
	return nil
}

// Resolved reports whether enough votes have been cast to reach a
// quorum, and if so whether the task is approved. ok is false while
// votes are still pending.
func (b *Ballot) Resolved() (approved bool, ok bool) {
	if len(b.Votes) < b.Gate.Quorum {
		return false, false
	}
	yes := 0
	for _, v := range b.Votes {
		if v.Approve {
			yes++
		}
	}
	return yes*2 > len(b.Votes), true
}

// NextAction decides what a failed task does next under its Gate.
// For Mechanical it consults RetryPolicy directly; for Recommended it
// reports the default action once the timeout has elapsed; for
// Confirmed and Arbitrated it reports that human input (or further
// votes) is still required.
func NextAction(g Gate, node *Node, failedAt time.Time, now time.Time) (action DefaultAction, waiting bool) {
	switch g.Tier {
	case GateMechanical:
		if node.Retries < g.RetryPolicy.MaxRetries {
			return ActionRetry, false
		}
		return ActionRollback, false
	case GateRecommended:
		if now.Sub(failedAt) >= g.Timeout {
			return g.DefaultAction, false
		}
		return "", true
	case GateConfirmed, GateArbitrated:
		return "", true
	default:
		return ActionRollback, false
	}
}
