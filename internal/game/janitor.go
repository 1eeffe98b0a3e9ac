package game

import (
	"context"
	"time"
)

// RunJanitor sweeps rooms on a fixed interval until the context is
// cancelled: expired ghost seats are purged, dead lobbies and over-long
// games are closed. It is the backstop against stuck rooms holding leaked
// timers.
func (m *Manager) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	defer m.recoverTimer("", "janitor sweep")

	fx := &effects{}
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		now := time.Now()
		for _, r := range m.rooms {
			for name, g := range r.ghosts {
				if now.After(g.expires) {
					delete(r.ghosts, name)
				}
			}

			switch {
			case len(r.Players) == 0:
				m.closeRoomLocked(r, "empty", fx)
			case r.Phase == PhaseLobby && now.Sub(r.UpdatedAt) > m.cfg.LobbyIdleTimeout:
				m.closeRoomLocked(r, "idle lobby", fx)
			case r.Phase.InGame() && now.Sub(r.StartedAt) > m.cfg.GameMaxDuration:
				m.closeRoomLocked(r, "game timed out", fx)
			}
		}
	}()
	m.flush(fx)
}
