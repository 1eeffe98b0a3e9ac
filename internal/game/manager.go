package game

import (
	"strings"
	"sync"
	"time"

	"github.com/impostor-party/impostor/internal/directory"
	"github.com/impostor-party/impostor/internal/events"
	"github.com/impostor-party/impostor/internal/logger"
	"github.com/impostor-party/impostor/internal/protocol"
)

// Sink receives events for one connection.
type Sink interface {
	Send(ev protocol.Event)
}

type Config struct {
	DefaultHintSeconds int
	DefaultVoteSeconds int
	DefaultMaxPlayers  int

	GhostGrace       time.Duration
	LobbyIdleTimeout time.Duration
	GameMaxDuration  time.Duration
	JanitorInterval  time.Duration
}

func (c *Config) withDefaults() {
	if c.DefaultHintSeconds == 0 {
		c.DefaultHintSeconds = 30
	}
	if c.DefaultVoteSeconds == 0 {
		c.DefaultVoteSeconds = 45
	}
	if c.DefaultMaxPlayers == 0 {
		c.DefaultMaxPlayers = 8
	}
	if c.GhostGrace == 0 {
		c.GhostGrace = 2 * time.Minute
	}
	if c.LobbyIdleTimeout == 0 {
		c.LobbyIdleTimeout = 30 * time.Minute
	}
	if c.GameMaxDuration == 0 {
		c.GameMaxDuration = 2 * time.Hour
	}
	if c.JanitorInterval == 0 {
		c.JanitorInterval = time.Minute
	}
}

// Manager owns every room and the connection membership map. One mutex
// serializes all room mutations, so handlers and timer callbacks never
// interleave mid-transition. Events are collected during the critical
// section and delivered after unlock.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	rooms   map[string]*Room
	members map[string]string // connection handle -> room code
	sinks   map[string]Sink

	dir *directory.Directory
	pub *events.Publisher
	log *logger.Logger
}

func NewManager(cfg Config, dir *directory.Directory, pub *events.Publisher, log *logger.Logger) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		rooms:   make(map[string]*Room),
		members: make(map[string]string),
		sinks:   make(map[string]Sink),
		dir:     dir,
		pub:     pub,
		log:     log,
	}
}

type delivery struct {
	sink Sink
	ev   protocol.Event
}

// effects accumulates the observable results of one mutation: events to
// deliver to connections and work (broker publishes) to run after unlock.
type effects struct {
	deliveries []delivery
	after      []func()
}

func (fx *effects) send(sink Sink, ev protocol.Event) {
	if sink == nil {
		return
	}
	fx.deliveries = append(fx.deliveries, delivery{sink: sink, ev: ev})
}

func (m *Manager) flush(fx *effects) {
	for _, d := range fx.deliveries {
		d.sink.Send(d.ev)
	}
	for _, f := range fx.after {
		f()
	}
}

// Connect registers a connection's sink. Must be called before any action
// from that connection is dispatched.
func (m *Manager) Connect(id string, sink Sink) {
	m.mu.Lock()
	m.sinks[id] = sink
	m.mu.Unlock()
}

// Disconnect tears down a connection's membership: the player leaves its
// room, a ghost seat is parked for rejoin, and the host role migrates if
// needed.
func (m *Manager) Disconnect(id string) {
	fx := &effects{}

	m.mu.Lock()
	delete(m.sinks, id)
	code, ok := m.members[id]
	if ok {
		delete(m.members, id)
		if r := m.rooms[code]; r != nil {
			m.removePlayerLocked(r, id, fx)
		}
	}
	m.mu.Unlock()

	m.dir.Unwatch(id)
	m.flush(fx)
}

func (m *Manager) removePlayerLocked(r *Room, id string, fx *effects) {
	p := r.player(id)
	if p == nil {
		return
	}

	// Park the seat for the rejoin grace window.
	r.ghosts[strings.ToLower(p.Name)] = ghost{
		role:    p.Role,
		alive:   p.Alive,
		expires: time.Now().Add(m.cfg.GhostGrace),
	}

	wasHost := r.HostID == id
	hostIdx := -1
	currentTurnID := ""
	removedAliveIdx := -1
	if r.Phase == PhaseHint {
		alive := r.aliveOrder()
		if r.turnIdx < len(alive) {
			currentTurnID = alive[r.turnIdx]
		}
		for i, aid := range alive {
			if aid == id {
				removedAliveIdx = i
				break
			}
		}
	}

	for i, oid := range r.Order {
		if oid == id {
			if wasHost {
				hostIdx = i
			}
			r.Order = append(r.Order[:i], r.Order[i+1:]...)
			break
		}
	}
	delete(r.Players, id)
	m.dropVoteLocked(r, id)
	m.touchLocked(r)

	if len(r.Players) == 0 {
		m.closeRoomLocked(r, "empty", fx)
		return
	}

	if wasHost {
		next := ""
		if len(r.Order) > 0 {
			if hostIdx < 0 || hostIdx >= len(r.Order) {
				hostIdx = 0
			}
			next = r.Order[hostIdx]
		} else {
			for pid := range r.Players {
				next = pid
				break
			}
		}
		r.HostID = next
		m.broadcastLocked(r, protocol.Event{Type: protocol.EventHostLeft, Data: map[string]any{
			"newHostId": next,
		}}, fx)
		m.log.Infof("room %s: host migrated to %s", r.Code, next)
	}

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventRoom, Data: r.snapshot()}, fx)

	if r.Phase.InGame() && r.Phase != PhaseGameOver {
		if m.checkEndLocked(r, fx) {
			m.syncDirLocked(r)
			return
		}
		switch r.Phase {
		case PhaseHint:
			if id == currentTurnID {
				// The departed player held the turn; the next alive player
				// slid into the same index.
				m.cancelTimersLocked(r)
				m.announceTurnLocked(r, fx)
			} else if removedAliveIdx >= 0 && removedAliveIdx < r.turnIdx {
				// A seat before the turn holder vanished, shifting the
				// alive order left; follow it so the turn stays put.
				r.turnIdx--
			}
		case PhaseVote:
			m.resolveVotesLocked(r, false, fx)
		}
	}

	m.syncDirLocked(r)
}

// dropVoteLocked removes a departing player's cast vote so the votes map
// stays a subset of the alive roster.
func (m *Manager) dropVoteLocked(r *Room, id string) {
	if _, ok := r.Votes[id]; !ok {
		return
	}
	delete(r.Votes, id)
	for i, v := range r.voteOrder {
		if v == id {
			r.voteOrder = append(r.voteOrder[:i], r.voteOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) broadcastLocked(r *Room, ev protocol.Event, fx *effects) {
	for id := range r.Players {
		fx.send(m.sinks[id], ev)
	}
}

// secretToInnocentsLocked privately delivers the secret to every alive
// innocent. Impostors and the dead never receive it.
func (m *Manager) secretToInnocentsLocked(r *Room, fx *effects) {
	for id, p := range r.Players {
		if p.Alive && p.Role == RoleInnocent {
			fx.send(m.sinks[id], protocol.Event{Type: protocol.EventSecret, Data: map[string]any{
				"secretPlayer": r.secret,
			}})
		}
	}
}

func (m *Manager) touchLocked(r *Room) {
	r.UpdatedAt = time.Now()
}

func (m *Manager) syncDirLocked(r *Room) {
	if r.Phase == PhaseClosed {
		m.dir.Delete(r.Code)
		return
	}
	if !r.Settings.Public {
		m.dir.Delete(r.Code)
		return
	}

	status := directory.StatusWaiting
	switch r.Phase {
	case PhaseHint, PhaseVote:
		status = directory.StatusInGame
	case PhaseGameOver:
		status = directory.StatusEnded
	}

	hostName := ""
	if host := r.player(r.HostID); host != nil {
		hostName = host.Name
	}

	m.dir.Upsert(directory.Entry{
		Code:       r.Code,
		HostName:   hostName,
		Players:    len(r.Players),
		MaxPlayers: r.Settings.MaxPlayers,
		Status:     status,
		Region:     r.Settings.Region,
		Public:     r.Settings.Public,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	})
}

func (m *Manager) closeRoomLocked(r *Room, reason string, fx *effects) {
	m.cancelTimersLocked(r)
	r.Phase = PhaseClosed

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventClosed, Data: map[string]any{
		"reason": reason,
	}}, fx)

	for id := range r.Players {
		delete(m.members, id)
	}
	delete(m.rooms, r.Code)
	m.dir.Delete(r.Code)

	code := r.Code
	fx.after = append(fx.after, func() { m.pub.RoomClosed(code, reason) })
	m.log.Infof("room %s closed (%s)", code, reason)
}

// roomForMember resolves an action's room and checks the sender belongs to
// it. Actions addressed to rooms the sender is not part of are rejected
// before any state is touched.
func (m *Manager) roomForMemberLocked(handle, code string) (*Room, error) {
	r := m.rooms[code]
	if r == nil {
		return nil, ErrRoomNotFound
	}
	if m.members[handle] != code {
		return nil, ErrNotInRoom
	}
	return r, nil
}

// CreateRoom opens a room with the sender as host.
func (m *Manager) CreateRoom(handle string, a protocol.CreateRoom) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := m.createRoomLocked(handle, a, fx)
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

func (m *Manager) createRoomLocked(handle string, a protocol.CreateRoom, fx *effects) protocol.Ack {
	if _, ok := m.members[handle]; ok {
		return protocol.AckErr(ErrAlreadyInRoom)
	}

	settings := Settings{
		Impostors:   a.Impostors,
		HintSeconds: a.HintSeconds,
		VoteSeconds: a.VoteSeconds,
		MaxPlayers:  a.MaxPlayers,
		Region:      a.Region,
		Public:      a.Public,
	}
	if settings.HintSeconds == 0 {
		settings.HintSeconds = m.cfg.DefaultHintSeconds
	}
	if settings.VoteSeconds == 0 {
		settings.VoteSeconds = m.cfg.DefaultVoteSeconds
	}
	if settings.MaxPlayers == 0 {
		settings.MaxPlayers = m.cfg.DefaultMaxPlayers
	}
	settings.clamp()

	code := newRoomCode(func(c string) bool {
		_, exists := m.rooms[c]
		return exists
	})

	now := time.Now()
	r := &Room{
		Code:      code,
		HostID:    handle,
		Settings:  settings,
		Players:   make(map[string]*Player),
		Order:     []string{handle},
		Phase:     PhaseLobby,
		Votes:     make(map[string]string),
		ghosts:    make(map[string]ghost),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.Players[handle] = &Player{
		ID:       handle,
		Name:     a.Name,
		Alive:    true,
		Role:     RoleInnocent,
		LastSeen: now,
	}

	m.rooms[code] = r
	m.members[handle] = code

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventRoom, Data: r.snapshot()}, fx)
	m.syncDirLocked(r)

	region, public := settings.Region, settings.Public
	fx.after = append(fx.after, func() { m.pub.RoomCreated(code, region, public) })
	m.log.Infof("room %s created by %q (region %s, public %t)", code, a.Name, region, public)

	return protocol.AckCode(code)
}

// Join adds a player to a lobby.
func (m *Manager) Join(handle string, a protocol.JoinRoom) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := m.joinLocked(handle, a, fx)
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

func (m *Manager) joinLocked(handle string, a protocol.JoinRoom, fx *effects) protocol.Ack {
	if _, ok := m.members[handle]; ok {
		return protocol.AckErr(ErrAlreadyInRoom)
	}
	r := m.rooms[a.Code]
	if r == nil {
		return protocol.AckErr(ErrRoomNotFound)
	}
	if r.Phase != PhaseLobby {
		return protocol.AckErr(ErrAlreadyStarted)
	}
	if len(r.Players) >= r.Settings.MaxPlayers {
		return protocol.AckErr(ErrRoomFull)
	}
	if r.nameTaken(a.Name) {
		return protocol.AckErr(ErrNameTaken)
	}

	now := time.Now()
	r.Players[handle] = &Player{
		ID:       handle,
		Name:     a.Name,
		Alive:    true,
		Role:     RoleInnocent,
		LastSeen: now,
	}
	r.Order = append(r.Order, handle)
	m.members[handle] = a.Code
	m.touchLocked(r)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventRoom, Data: r.snapshot()}, fx)
	m.syncDirLocked(r)

	return protocol.AckOK()
}

// SetReady toggles the sender's lobby ready flag.
func (m *Manager) SetReady(handle string, a protocol.SetReady) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := func() protocol.Ack {
		r, err := m.roomForMemberLocked(handle, a.Code)
		if err != nil {
			return protocol.AckErr(err)
		}
		if r.Phase != PhaseLobby {
			return protocol.AckErr(ErrWrongPhase)
		}
		p := r.player(handle)
		p.Ready = a.Ready
		p.LastSeen = time.Now()
		m.touchLocked(r)
		m.broadcastLocked(r, protocol.Event{Type: protocol.EventRoom, Data: r.snapshot()}, fx)
		m.syncDirLocked(r)
		return protocol.AckOK()
	}()
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

// UpdateSettings applies a host's settings patch while in the lobby. The
// same patch in any other phase is rejected with no mutation.
func (m *Manager) UpdateSettings(handle string, a protocol.SettingsPatch) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := m.updateSettingsLocked(handle, a, fx)
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

func (m *Manager) updateSettingsLocked(handle string, a protocol.SettingsPatch, fx *effects) protocol.Ack {
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

	if a.Impostors != nil {
		r.Settings.Impostors = *a.Impostors
	}
	if a.HintSeconds != nil {
		r.Settings.HintSeconds = *a.HintSeconds
	}
	if a.VoteSeconds != nil {
		r.Settings.VoteSeconds = *a.VoteSeconds
	}
	if a.MaxPlayers != nil {
		r.Settings.MaxPlayers = *a.MaxPlayers
	}
	if a.Region != nil {
		r.Settings.Region = *a.Region
	}
	if a.Public != nil {
		r.Settings.Public = *a.Public
	}
	r.Settings.clamp()
	m.touchLocked(r)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventRoom, Data: r.snapshot()}, fx)
	m.syncDirLocked(r)
	return protocol.AckOK()
}

// CloseRoom tears the room down on the host's request.
func (m *Manager) CloseRoom(handle string, a protocol.RoomOnly) protocol.Ack {
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
		m.closeRoomLocked(r, "closed by host", fx)
		return protocol.AckOK()
	}()
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

// Rejoin restores a disconnected player's seat under a new connection
// handle, within the ghost grace window.
func (m *Manager) Rejoin(handle string, a protocol.Rejoin) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := m.rejoinLocked(handle, a, fx)
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

func (m *Manager) rejoinLocked(handle string, a protocol.Rejoin, fx *effects) protocol.Ack {
	if _, ok := m.members[handle]; ok {
		return protocol.AckErr(ErrAlreadyInRoom)
	}
	r := m.rooms[a.Code]
	if r == nil {
		return protocol.AckErr(ErrRoomNotFound)
	}

	key := strings.ToLower(a.Name)
	g, ok := r.ghosts[key]
	if !ok {
		return protocol.AckErr(ErrNoGhost)
	}
	if time.Now().After(g.expires) {
		delete(r.ghosts, key)
		return protocol.AckErr(ErrGhostExpired)
	}
	if r.nameTaken(a.Name) {
		// The seat was reclaimed by a new player with the same name.
		return protocol.AckErr(ErrNameTaken)
	}

	delete(r.ghosts, key)

	now := time.Now()
	r.Players[handle] = &Player{
		ID:       handle,
		Name:     a.Name,
		Alive:    g.alive,
		Role:     g.role,
		LastSeen: now,
	}
	r.Order = append(r.Order, handle)
	m.members[handle] = a.Code
	m.touchLocked(r)

	m.broadcastLocked(r, protocol.Event{Type: protocol.EventRoom, Data: r.snapshot()}, fx)
	if r.Phase.InGame() && r.Phase != PhaseGameOver && g.alive && g.role == RoleInnocent {
		fx.send(m.sinks[handle], protocol.Event{Type: protocol.EventSecret, Data: map[string]any{
			"secretPlayer": r.secret,
		}})
	}
	m.syncDirLocked(r)

	m.log.Infof("room %s: %q rejoined as %s", r.Code, a.Name, handle)
	return protocol.AckOK()
}

// SendChat relays table talk, which is only open while votes are being
// cast.
func (m *Manager) SendChat(handle string, a protocol.SendChat) protocol.Ack {
	fx := &effects{}
	m.mu.Lock()
	ack := func() protocol.Ack {
		r, err := m.roomForMemberLocked(handle, a.Code)
		if err != nil {
			return protocol.AckErr(err)
		}
		if r.Phase != PhaseVote {
			return protocol.AckErr(ErrVotingOnly)
		}
		p := r.player(handle)
		now := time.Now()
		if now.Sub(p.lastChat) < chatCooldown {
			return protocol.AckErr(ErrRateLimited)
		}
		p.lastChat = now
		p.LastSeen = now
		m.broadcastLocked(r, protocol.Event{Type: protocol.EventChat, Data: map[string]any{
			"name": p.Name,
			"text": a.Text,
		}}, fx)
		return protocol.AckOK()
	}()
	m.mu.Unlock()
	m.flush(fx)
	return ack
}

// ListRooms returns the directory view for a filter.
func (m *Manager) ListRooms(a protocol.RoomFilter) []directory.Entry {
	return m.dir.List(a)
}

// WatchRooms subscribes the connection to directory pushes.
func (m *Manager) WatchRooms(handle string, a protocol.RoomFilter) protocol.Ack {
	m.mu.Lock()
	sink := m.sinks[handle]
	m.mu.Unlock()
	if sink == nil {
		return protocol.AckError("unknown connection")
	}
	m.dir.Watch(handle, sink, a)
	return protocol.AckOK()
}

// RoomCount reports the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
