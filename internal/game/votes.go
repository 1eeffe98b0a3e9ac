package game

import (
	"time"

	"github.com/impostor-party/impostor/internal/protocol"
)

// beginVoteLocked opens the VOTE phase and arms the server-side deadline
// that forces resolution even if some players never vote.
func (m *Manager) beginVoteLocked(r *Room, fx *effects) {
	m.cancelTimersLocked(r)

	r.Phase = PhaseVote
	r.Votes = make(map[string]string)
	r.voteOrder = nil
	m.touchLocked(r)

	d := time.Duration(r.Settings.VoteSeconds) * time.Second
	m.armVoteTimerLocked(r, d)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventPhase, Data: r.snapshot()}, fx)
	m.broadcastLocked(r, protocol.Event{Type: protocol.EventVoteOpen, Data: map[string]any{
		"deadline":  r.voteDeadline.UnixMilli(),
		"seconds":   r.Settings.VoteSeconds,
		"serverNow": time.Now().UnixMilli(),
	}}, fx)
	m.syncDirLocked(r)
}

// CastVote records one vote per alive player per round: a target handle or
// the skip sentinel. Each cast re-runs resolution.
func (m *Manager) CastVote(handle string, a protocol.CastVote) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := m.castVoteLocked(handle, a, fx)
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

func (m *Manager) castVoteLocked(handle string, a protocol.CastVote, fx *effects) protocol.Ack {
	r, err := m.roomForMemberLocked(handle, a.Code)
	if err != nil {
		return protocol.AckErr(err)
	}
	if r.Phase != PhaseVote {
		return protocol.AckErr(ErrWrongPhase)
	}
	voter := r.player(handle)
	if voter == nil || !voter.Alive {
		return protocol.AckErr(ErrInvalidTarget)
	}
	if _, ok := r.Votes[handle]; ok {
		return protocol.AckErr(ErrAlreadyVoted)
	}
	if a.Target != protocol.VoteSkip {
		target := r.player(a.Target)
		if target == nil || !target.Alive || a.Target == handle {
			return protocol.AckErr(ErrInvalidTarget)
		}
	}

	voter.LastSeen = time.Now()
	r.Votes[handle] = a.Target
	r.voteOrder = append(r.voteOrder, handle)
	m.touchLocked(r)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventVoteTally, Data: map[string]any{
		"votes": len(r.Votes),
	}}, fx)

	m.resolveVotesLocked(r, false, fx)
	return protocol.AckOK()
}

// onVoteDeadline forces resolution when the voting window closes.
func (m *Manager) onVoteDeadline(code string, seq uint64) {
	defer m.recoverTimer(code, "vote deadline")

	fx := &effects{}
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		r := m.rooms[code]
		if r == nil || r.Phase != PhaseVote || seq != r.timerSeq {
			return
		}
		m.resolveVotesLocked(r, true, fx)
	}()
	m.flush(fx)
}

// tally is the counted outcome of the cast votes. Votes are enumerated in
// cast order, so among tied top targets the one whose votes arrived first
// wins; the tie-break is deterministic and documented here.
type tally struct {
	skips    int
	top      string
	topCount int
}

func (r *Room) tallyVotes() tally {
	var t tally
	counts := make(map[string]int, len(r.Votes))
	for _, voter := range r.voteOrder {
		target, ok := r.Votes[voter]
		if !ok {
			continue
		}
		if target == protocol.VoteSkip {
			t.skips++
			continue
		}
		counts[target]++
		if counts[target] > t.topCount {
			t.top = target
			t.topCount = counts[target]
		}
	}
	return t
}

// resolveVotesLocked applies the resolution precedence: a skip majority
// spares everyone, a target majority eliminates, and a full table (or the
// deadline) with no majority starts the next round unchanged.
func (m *Manager) resolveVotesLocked(r *Room, deadline bool, fx *effects) {
	if r.Phase != PhaseVote {
		return
	}

	alive := r.aliveCount()
	need := majorityNeeded(alive)
	t := r.tallyVotes()

	switch {
	case t.skips >= need:
		m.nextRoundLocked(r, fx)
	case t.topCount >= need:
		m.eliminateLocked(r, t.top, fx)
	case deadline || len(r.Votes) >= alive:
		m.nextRoundLocked(r, fx)
	}
}

// eliminateLocked marks the target dead, re-evaluates end conditions, and
// loops back into HINT when the game continues.
func (m *Manager) eliminateLocked(r *Room, targetID string, fx *effects) {
	target := r.player(targetID)
	if target == nil {
		return
	}
	target.Alive = false
	m.touchLocked(r)
	m.log.Infof("room %s: %q eliminated (%s)", r.Code, target.Name, target.Role)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventRoom, Data: r.snapshot()}, fx)

	if m.checkEndLocked(r, fx) {
		return
	}
	m.nextRoundLocked(r, fx)
}

// nextRoundLocked clears the round state, rotates the opening seat, and
// re-enters HINT.
func (m *Manager) nextRoundLocked(r *Room, fx *effects) {
	m.cancelTimersLocked(r)

	r.Phase = PhaseHint
	r.Hints = nil
	r.Votes = make(map[string]string)
	r.voteOrder = nil
	r.rotate()
	r.turnIdx = 0
	r.rounds++
	m.touchLocked(r)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventPhase, Data: r.snapshot()}, fx)
	m.secretToInnocentsLocked(r, fx)
	m.announceTurnLocked(r, fx)
	m.syncDirLocked(r)
}

// checkEndLocked enters GAME_OVER the instant either side hits its
// terminal threshold, cancelling all outstanding timers for the room.
func (m *Manager) checkEndLocked(r *Room, fx *effects) bool {
	var winners Winners
	switch {
	case r.aliveByRole(RoleImpostor) == 0:
		winners = WinnersInnocents
	case r.aliveByRole(RoleInnocent) <= 1:
		winners = WinnersImpostors
	default:
		return false
	}

	m.cancelTimersLocked(r)
	r.Phase = PhaseGameOver
	r.Winners = winners
	m.touchLocked(r)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventPhase, Data: r.snapshot()}, fx)
	m.syncDirLocked(r)

	code, rounds := r.Code, r.rounds
	fx.after = append(fx.after, func() { m.pub.GameOver(code, string(winners), rounds) })
	m.log.Infof("room %s: game over, %s win after %d round(s)", code, winners, rounds)
	return true
}
