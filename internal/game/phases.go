package game

import (
	"math/rand"
	"time"

	"github.com/impostor-party/impostor/internal/protocol"
)

// StartGame moves a lobby into its first HINT round. Host only; requires
// at least three players and enough ready hands (everyone, or 70% with the
// host always counted as ready).
func (m *Manager) StartGame(handle string, a protocol.RoomOnly) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := func() protocol.Ack {
		r, err := m.roomForMemberLocked(handle, a.Code)
		if err != nil {
			return protocol.AckErr(err)
		}
		if r.HostID != handle {
			return protocol.AckErr(ErrNotHost)
		}
		if r.Phase != PhaseLobby {
			return protocol.AckErr(ErrWrongPhase)
		}
		n := len(r.Players)
		if n < MinPlayersToStart {
			return protocol.AckErr(ErrNotEnough)
		}
		ready := r.readyCount()
		if ready < n && ready < ceilDiv(7*n, 10) {
			return protocol.AckErr(ErrNotReady)
		}
		m.startGameLocked(r, false, fx)
		return protocol.AckOK()
	}()
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

// ForceRestart rolls a finished (or stuck) game straight into a fresh one:
// same table, rotated order, new roles and secret.
func (m *Manager) ForceRestart(handle string, a protocol.RoomOnly) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := func() protocol.Ack {
		r, err := m.roomForMemberLocked(handle, a.Code)
		if err != nil {
			return protocol.AckErr(err)
		}
		if r.HostID != handle {
			return protocol.AckErr(ErrNotHost)
		}
		if !r.Phase.InGame() {
			return protocol.AckErr(ErrWrongPhase)
		}
		if len(r.Players) < MinPlayersToStart {
			return protocol.AckErr(ErrNotEnough)
		}
		m.startGameLocked(r, true, fx)
		return protocol.AckOK()
	}()
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// startGameLocked (re)randomizes roles and the secret, fixes or rotates
// the turn order, and opens the first HINT round.
func (m *Manager) startGameLocked(r *Room, keepRotation bool, fx *effects) {
	m.cancelTimersLocked(r)

	now := time.Now()
	r.Phase = PhaseHint
	r.Hints = nil
	r.Votes = make(map[string]string)
	r.voteOrder = nil
	r.Winners = ""
	r.rounds = 1
	r.StartedAt = now
	m.touchLocked(r)

	if keepRotation {
		// Keep the standing order minus leavers, rotated one seat.
		kept := r.Order[:0]
		for _, id := range r.Order {
			if _, ok := r.Players[id]; ok {
				kept = append(kept, id)
			}
		}
		r.Order = kept
		r.rotate()
	}

	// Role assignment: uniform random without replacement, at most a third
	// of the table impostors.
	ids := append([]string(nil), r.Order...)
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	maxImpostors := len(ids) / 3
	if maxImpostors < 1 {
		maxImpostors = 1
	}
	impostorCount := r.Settings.Impostors
	if impostorCount > maxImpostors {
		impostorCount = maxImpostors
	}

	impostors := make(map[string]bool, impostorCount)
	for _, id := range ids[:impostorCount] {
		impostors[id] = true
	}
	for id, p := range r.Players {
		p.Alive = true
		p.Ready = false
		if impostors[id] {
			p.Role = RoleImpostor
		} else {
			p.Role = RoleInnocent
		}
	}

	r.prevSecret = r.secret
	r.secret = pickSecret(r.prevSecret)
	r.turnIdx = 0

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventPhase, Data: r.snapshot()}, fx)
	m.secretToInnocentsLocked(r, fx)
	m.announceTurnLocked(r, fx)
	m.syncDirLocked(r)

	code, players := r.Code, len(r.Players)
	fx.after = append(fx.after, func() { m.pub.GameStarted(code, players, impostorCount) })
	m.log.Infof("room %s: game started with %d players, %d impostor(s)", code, players, impostorCount)
}

// announceTurnLocked tells the room whose turn it is and arms the turn
// timeout, or ends the phase when the alive order is exhausted.
func (m *Manager) announceTurnLocked(r *Room, fx *effects) {
	if r.Phase != PhaseHint {
		return
	}

	alive := r.aliveOrder()
	if len(alive) < 2 {
		m.checkEndLocked(r, fx)
		return
	}

	if r.turnIdx >= len(alive) {
		m.beginVoteLocked(r, fx)
		return
	}

	turnID := alive[r.turnIdx]
	turnName := "?"
	if p := r.Players[turnID]; p != nil {
		turnName = p.Name
	}

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventTurn, Data: map[string]any{
		"turnId":    turnID,
		"turnName":  turnName,
		"seconds":   r.Settings.HintSeconds,
		"serverNow": time.Now().UnixMilli(),
	}}, fx)

	m.armTurnTimerLocked(r, time.Duration(r.Settings.HintSeconds)*time.Second)
}

func (m *Manager) armTurnTimerLocked(r *Room, d time.Duration) {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
	}
	r.timerSeq++
	seq := r.timerSeq
	code := r.Code
	r.turnTimer = time.AfterFunc(d, func() {
		m.onTurnTimeout(code, seq)
	})
}

func (m *Manager) armVoteTimerLocked(r *Room, d time.Duration) {
	if r.voteTimer != nil {
		r.voteTimer.Stop()
	}
	r.timerSeq++
	seq := r.timerSeq
	code := r.Code
	r.voteDeadline = time.Now().Add(d)
	r.voteTimer = time.AfterFunc(d, func() {
		m.onVoteDeadline(code, seq)
	})
}

// cancelTimersLocked is called on every phase transition before new tasks
// are armed; bumping the sequence makes any in-flight fire a no-op.
func (m *Manager) cancelTimersLocked(r *Room) {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
	if r.voteTimer != nil {
		r.voteTimer.Stop()
		r.voteTimer = nil
	}
	r.timerSeq++
}

// onTurnTimeout fires when the current player ran out the clock: a
// placeholder hint is recorded and the turn advances.
func (m *Manager) onTurnTimeout(code string, seq uint64) {
	defer m.recoverTimer(code, "turn timeout")

	fx := &effects{}
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		r := m.rooms[code]
		if r == nil || r.Phase != PhaseHint || seq != r.timerSeq {
			return
		}
		alive := r.aliveOrder()
		if r.turnIdx < len(alive) {
			turnID := alive[r.turnIdx]
			if p := r.Players[turnID]; p != nil && p.Alive {
				r.Hints = append(r.Hints, Hint{By: turnID, Name: p.Name, Text: PlaceholderHint})
				m.broadcastLocked(r, protocol.Event{Type: protocol.EventHints, Data: map[string]any{
					"hints": append([]Hint(nil), r.Hints...),
				}}, fx)
			}
		}
		m.advanceTurnLocked(r, fx)
	}()
	m.flush(fx)
}

func (m *Manager) advanceTurnLocked(r *Room, fx *effects) {
	if r.Phase != PhaseHint {
		return
	}
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
	r.timerSeq++
	r.turnIdx++
	m.touchLocked(r)
	m.announceTurnLocked(r, fx)
}

// SubmitHint records the current player's hint and advances the turn. A
// hint from anyone else, or outside HINT, is rejected without mutation.
func (m *Manager) SubmitHint(handle string, a protocol.SubmitHint) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := func() protocol.Ack {
		r, err := m.roomForMemberLocked(handle, a.Code)
		if err != nil {
			return protocol.AckErr(err)
		}
		if r.Phase != PhaseHint {
			return protocol.AckErr(ErrWrongPhase)
		}
		alive := r.aliveOrder()
		if r.turnIdx >= len(alive) || alive[r.turnIdx] != handle {
			return protocol.AckErr(ErrNotYourTurn)
		}
		p := r.player(handle)
		if p == nil || !p.Alive {
			return protocol.AckErr(ErrNotYourTurn)
		}

		p.LastSeen = time.Now()
		r.Hints = append(r.Hints, Hint{By: handle, Name: p.Name, Text: a.Text})
		m.broadcastLocked(r, protocol.Event{Type: protocol.EventHints, Data: map[string]any{
			"hints": append([]Hint(nil), r.Hints...),
		}}, fx)
		m.advanceTurnLocked(r, fx)
		return protocol.AckOK()
	}()
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

// ForceNextTurn lets the host skip an unresponsive player; it behaves
// exactly like the turn timeout firing.
func (m *Manager) ForceNextTurn(handle string, a protocol.RoomOnly) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := func() protocol.Ack {
		r, err := m.roomForMemberLocked(handle, a.Code)
		if err != nil {
			return protocol.AckErr(err)
		}
		if r.HostID != handle {
			return protocol.AckErr(ErrNotHost)
		}
		if r.Phase != PhaseHint {
			return protocol.AckErr(ErrWrongPhase)
		}

		alive := r.aliveOrder()
		if r.turnIdx < len(alive) {
			turnID := alive[r.turnIdx]
			if p := r.Players[turnID]; p != nil && p.Alive {
				r.Hints = append(r.Hints, Hint{By: turnID, Name: p.Name, Text: PlaceholderHint})
				m.broadcastLocked(r, protocol.Event{Type: protocol.EventHints, Data: map[string]any{
					"hints": append([]Hint(nil), r.Hints...),
				}}, fx)
			}
		}
		m.advanceTurnLocked(r, fx)
		return protocol.AckOK()
	}()
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

// recoverTimer keeps a fault inside a scheduled transition from crashing
// the process; the room stays in its last consistent phase.
func (m *Manager) recoverTimer(code, what string) {
	if p := recover(); p != nil {
		m.log.Errorf("room %s: panic during %s: %v", code, what, p)
	}
}
