package game

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/impostor-party/impostor/internal/directory"
	"github.com/impostor-party/impostor/internal/logger"
	"github.com/impostor-party/impostor/internal/protocol"
)

// memSink records every event pushed to one connection.
type memSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *memSink) Send(ev protocol.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *memSink) byType(eventType string) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Event
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (s *memSink) last(eventType string) (protocol.Event, bool) {
	matches := s.byType(eventType)
	if len(matches) == 0 {
		return protocol.Event{}, false
	}
	return matches[len(matches)-1], true
}

func (s *memSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func newTestManager(cfg Config) *Manager {
	return NewManager(cfg, directory.New(nil), nil, logger.New("test"))
}

type fixture struct {
	m       *Manager
	code    string
	handles []string
	sinks   map[string]*memSink
}

var fixtureSeq atomic.Uint64

// newFixture creates a public room with n players, all ready, with timers
// long enough that nothing fires mid-test. Connection handles are unique
// across fixtures so several rooms can share one manager.
func newFixture(t *testing.T, m *Manager, n int) *fixture {
	t.Helper()

	names := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi"}
	require.LessOrEqual(t, n, len(names))

	f := &fixture{m: m, sinks: make(map[string]*memSink)}
	seq := fixtureSeq.Add(1)

	for i := 0; i < n; i++ {
		handle := fmt.Sprintf("conn%d-%s", seq, names[i])
		sink := &memSink{}
		m.Connect(handle, sink)
		f.handles = append(f.handles, handle)
		f.sinks[handle] = sink

		if i == 0 {
			ack := m.CreateRoom(handle, protocol.CreateRoom{
				Name:        names[i],
				HintSeconds: 60,
				VoteSeconds: 60,
				MaxPlayers:  MaxMaxPlayers,
				Public:      true,
			})
			require.True(t, ack.OK, ack.Error)
			f.code = ack.Code
			continue
		}

		ack := m.Join(handle, protocol.JoinRoom{Code: f.code, Name: names[i]})
		require.True(t, ack.OK, ack.Error)
		ack = m.SetReady(handle, protocol.SetReady{Code: f.code, Ready: true})
		require.True(t, ack.OK, ack.Error)
	}

	return f
}

func (f *fixture) room(t *testing.T) *Room {
	t.Helper()
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	r := f.m.rooms[f.code]
	require.NotNil(t, r)
	return r
}

func (f *fixture) host() string { return f.handles[0] }

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ack := f.m.StartGame(f.host(), protocol.RoomOnly{Code: f.code})
	require.True(t, ack.OK, ack.Error)
}

// byRole lists the players holding a role, in seat order.
func (f *fixture) byRole(t *testing.T, role Role) []string {
	t.Helper()
	r := f.room(t)

	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	var out []string
	for _, id := range r.Order {
		if p := r.Players[id]; p != nil && p.Role == role {
			out = append(out, id)
		}
	}
	return out
}

// submitAllHints walks the alive order and submits one hint per player,
// landing the room in the VOTE phase.
func (f *fixture) submitAllHints(t *testing.T) {
	t.Helper()
	r := f.room(t)

	f.m.mu.Lock()
	alive := r.aliveOrder()
	f.m.mu.Unlock()

	for _, id := range alive {
		ack := f.m.SubmitHint(id, protocol.SubmitHint{Code: f.code, Text: "plays up front"})
		require.True(t, ack.OK, ack.Error)
	}
}

func TestCreateRoomAcksCodeAndBroadcastsRoomState(t *testing.T) {
	m := newTestManager(Config{})
	sink := &memSink{}
	m.Connect("conn-1", sink)

	ack := m.CreateRoom("conn-1", protocol.CreateRoom{Name: "alice", Public: true})
	require.True(t, ack.OK)
	require.Len(t, ack.Code, protocol.CodeLength)

	ev, ok := sink.last(protocol.EventRoom)
	require.True(t, ok)
	snap := ev.Data.(Snapshot)
	require.Equal(t, PhaseLobby, snap.Phase)
	require.Equal(t, "conn-1", snap.HostID)
	require.Len(t, snap.Players, 1)
	require.Equal(t, "alice", snap.Players[0].Name)

	require.Equal(t, 1, m.RoomCount())
}

// Roster broadcasts carry the same event type in every phase, so clients
// handle one tag for lobby and mid-game updates alike.
func TestRoomUpdateTagIsPhaseNeutral(t *testing.T) {
	require.Equal(t, "room:update", protocol.EventRoom)

	m := newTestManager(Config{GhostGrace: time.Hour})
	f := newFixture(t, m, 4)
	f.start(t)

	f.sinks[f.handles[3]].reset()
	m.Disconnect(f.handles[2])

	ev, ok := f.sinks[f.handles[3]].last(protocol.EventRoom)
	require.True(t, ok)
	snap := ev.Data.(Snapshot)
	require.Equal(t, PhaseHint, snap.Phase)
}

func TestCreateRoomClampsSettings(t *testing.T) {
	m := newTestManager(Config{})
	m.Connect("conn-1", &memSink{})

	ack := m.CreateRoom("conn-1", protocol.CreateRoom{
		Name:        "alice",
		Impostors:   -3,
		HintSeconds: 1,
		VoteSeconds: 2,
		MaxPlayers:  99,
	})
	require.True(t, ack.OK)

	m.mu.Lock()
	s := m.rooms[ack.Code].Settings
	m.mu.Unlock()

	require.Equal(t, 1, s.Impostors)
	require.Equal(t, MinHintSeconds, s.HintSeconds)
	require.Equal(t, MinVoteSeconds, s.VoteSeconds)
	require.Equal(t, MaxMaxPlayers, s.MaxPlayers)
	require.Equal(t, "any", s.Region)
}

func TestCreateRoomWhileInRoomRejected(t *testing.T) {
	m := newTestManager(Config{})
	m.Connect("conn-1", &memSink{})

	ack := m.CreateRoom("conn-1", protocol.CreateRoom{Name: "alice"})
	require.True(t, ack.OK)

	ack = m.CreateRoom("conn-1", protocol.CreateRoom{Name: "alice"})
	require.False(t, ack.OK)
	require.Equal(t, ErrAlreadyInRoom.Error(), ack.Error)
}

func TestJoinRejections(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 2)

	stranger := "conn-x"
	m.Connect(stranger, &memSink{})

	ack := m.Join(stranger, protocol.JoinRoom{Code: "ZZZZZ", Name: "zoe"})
	require.False(t, ack.OK)
	require.Equal(t, ErrRoomNotFound.Error(), ack.Error)

	// Display names are unique per room, case-insensitively.
	ack = m.Join(stranger, protocol.JoinRoom{Code: f.code, Name: "ALICE"})
	require.False(t, ack.OK)
	require.Equal(t, ErrNameTaken.Error(), ack.Error)
}

func TestJoinFullRoom(t *testing.T) {
	m := newTestManager(Config{DefaultMaxPlayers: MinMaxPlayers})
	f := newFixture(t, m, 1)

	ack := m.UpdateSettings(f.host(), protocol.SettingsPatch{Code: f.code, MaxPlayers: intPtr(3)})
	require.True(t, ack.OK)

	for i, name := range []string{"bob", "carol"} {
		handle := "extra-" + name
		m.Connect(handle, &memSink{})
		ack := m.Join(handle, protocol.JoinRoom{Code: f.code, Name: name})
		require.True(t, ack.OK, "join %d: %s", i, ack.Error)
	}

	m.Connect("conn-late", &memSink{})
	ack = m.Join("conn-late", protocol.JoinRoom{Code: f.code, Name: "zoe"})
	require.False(t, ack.OK)
	require.Equal(t, ErrRoomFull.Error(), ack.Error)
}

func TestJoinAfterStartRejected(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 3)
	f.start(t)

	m.Connect("conn-late", &memSink{})
	ack := m.Join("conn-late", protocol.JoinRoom{Code: f.code, Name: "zoe"})
	require.False(t, ack.OK)
	require.Equal(t, ErrAlreadyStarted.Error(), ack.Error)
}

func TestUpdateSettingsHostAndLobbyOnly(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 3)

	ack := m.UpdateSettings(f.handles[1], protocol.SettingsPatch{Code: f.code, HintSeconds: intPtr(20)})
	require.False(t, ack.OK)
	require.Equal(t, ErrNotHost.Error(), ack.Error)

	ack = m.UpdateSettings(f.host(), protocol.SettingsPatch{Code: f.code, HintSeconds: intPtr(20)})
	require.True(t, ack.OK)
	require.Equal(t, 20, f.room(t).Settings.HintSeconds)

	f.start(t)

	// Rejected patches leave the settings untouched.
	ack = m.UpdateSettings(f.host(), protocol.SettingsPatch{Code: f.code, HintSeconds: intPtr(45)})
	require.False(t, ack.OK)
	require.Equal(t, ErrWrongPhase.Error(), ack.Error)
	require.Equal(t, 20, f.room(t).Settings.HintSeconds)
}

func TestCloseRoomHostOnly(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 3)

	ack := m.CloseRoom(f.handles[1], protocol.RoomOnly{Code: f.code})
	require.False(t, ack.OK)
	require.Equal(t, ErrNotHost.Error(), ack.Error)

	ack = m.CloseRoom(f.host(), protocol.RoomOnly{Code: f.code})
	require.True(t, ack.OK)
	require.Equal(t, 0, m.RoomCount())

	for _, handle := range f.handles {
		_, ok := f.sinks[handle].last(protocol.EventClosed)
		require.True(t, ok, "%s missed the close event", handle)
	}

	// Members were released and may open fresh rooms.
	ack = m.CreateRoom(f.handles[1], protocol.CreateRoom{Name: "bob"})
	require.True(t, ack.OK)
}

func TestHostMigrationOnDisconnect(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 3)

	m.Disconnect(f.host())

	r := f.room(t)
	require.Equal(t, f.handles[1], r.HostID)

	ev, ok := f.sinks[f.handles[1]].last(protocol.EventHostLeft)
	require.True(t, ok)
	data := ev.Data.(map[string]any)
	require.Equal(t, f.handles[1], data["newHostId"])
}

func TestLastDisconnectClosesRoom(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 2)

	m.Disconnect(f.handles[0])
	m.Disconnect(f.handles[1])

	require.Equal(t, 0, m.RoomCount())
}

func TestRejoinRestoresSeat(t *testing.T) {
	m := newTestManager(Config{GhostGrace: time.Minute})
	f := newFixture(t, m, 4)
	f.start(t)

	innocents := f.byRole(t, RoleInnocent)
	require.NotEmpty(t, innocents)
	gone := innocents[len(innocents)-1]

	m.Disconnect(gone)

	names := map[string]string{
		f.handles[0]: "alice", f.handles[1]: "bob",
		f.handles[2]: "carol", f.handles[3]: "dave",
	}

	newSink := &memSink{}
	m.Connect("conn-back", newSink)
	ack := m.Rejoin("conn-back", protocol.Rejoin{Code: f.code, Name: names[gone]})
	require.True(t, ack.OK, ack.Error)

	r := f.room(t)
	p := r.player("conn-back")
	require.NotNil(t, p)
	require.True(t, p.Alive)
	require.Equal(t, RoleInnocent, p.Role)

	// An alive innocent gets the secret again on rejoin.
	ev, ok := newSink.last(protocol.EventSecret)
	require.True(t, ok)
	data := ev.Data.(map[string]any)
	require.NotEmpty(t, data["secretPlayer"])
}

func TestRejoinAfterGraceExpired(t *testing.T) {
	m := newTestManager(Config{GhostGrace: 10 * time.Millisecond})
	f := newFixture(t, m, 3)

	m.Disconnect(f.handles[2])
	time.Sleep(30 * time.Millisecond)

	m.Connect("conn-back", &memSink{})
	ack := m.Rejoin("conn-back", protocol.Rejoin{Code: f.code, Name: "carol"})
	require.False(t, ack.OK)
	require.Equal(t, ErrGhostExpired.Error(), ack.Error)

	// The expired ghost was dropped; a second attempt reports no seat at all.
	ack = m.Rejoin("conn-back", protocol.Rejoin{Code: f.code, Name: "carol"})
	require.False(t, ack.OK)
	require.Equal(t, ErrNoGhost.Error(), ack.Error)
}

func TestRejoinNameReclaimed(t *testing.T) {
	m := newTestManager(Config{GhostGrace: time.Minute})
	f := newFixture(t, m, 2)

	m.Disconnect(f.handles[1])

	// A new player takes the departed name before the rejoin.
	m.Connect("conn-new", &memSink{})
	ack := m.Join("conn-new", protocol.JoinRoom{Code: f.code, Name: "bob"})
	require.True(t, ack.OK)

	m.Connect("conn-back", &memSink{})
	ack = m.Rejoin("conn-back", protocol.Rejoin{Code: f.code, Name: "bob"})
	require.False(t, ack.OK)
	require.Equal(t, ErrNameTaken.Error(), ack.Error)
}

func TestChatVotePhaseOnlyWithCooldown(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 3)
	f.start(t)

	ack := m.SendChat(f.handles[1], protocol.SendChat{Code: f.code, Text: "hello"})
	require.False(t, ack.OK)
	require.Equal(t, ErrVotingOnly.Error(), ack.Error)

	f.submitAllHints(t)
	require.Equal(t, PhaseVote, f.room(t).Phase)

	ack = m.SendChat(f.handles[1], protocol.SendChat{Code: f.code, Text: "hello"})
	require.True(t, ack.OK)

	ev, ok := f.sinks[f.handles[2]].last(protocol.EventChat)
	require.True(t, ok)
	data := ev.Data.(map[string]any)
	require.Equal(t, "bob", data["name"])
	require.Equal(t, "hello", data["text"])

	ack = m.SendChat(f.handles[1], protocol.SendChat{Code: f.code, Text: "again"})
	require.False(t, ack.OK)
	require.Equal(t, ErrRateLimited.Error(), ack.Error)
}

func TestDirectoryTracksRoomLifecycle(t *testing.T) {
	m := newTestManager(Config{})
	f := newFixture(t, m, 3)

	entries := m.ListRooms(protocol.RoomFilter{Region: directory.AnyRegion})
	require.Len(t, entries, 1)
	require.Equal(t, f.code, entries[0].Code)
	require.Equal(t, directory.StatusWaiting, entries[0].Status)
	require.Equal(t, 3, entries[0].Players)

	f.start(t)
	entries = m.ListRooms(protocol.RoomFilter{Region: directory.AnyRegion})
	require.Len(t, entries, 1)
	require.Equal(t, directory.StatusInGame, entries[0].Status)

	// In-game rooms drop out of the open-only view.
	entries = m.ListRooms(protocol.RoomFilter{Region: directory.AnyRegion, OpenOnly: true})
	require.Empty(t, entries)

	require.True(t, m.CloseRoom(f.host(), protocol.RoomOnly{Code: f.code}).OK)
	entries = m.ListRooms(protocol.RoomFilter{Region: directory.AnyRegion})
	require.Empty(t, entries)
}

func TestPrivateRoomHiddenFromDirectory(t *testing.T) {
	m := newTestManager(Config{})
	m.Connect("conn-1", &memSink{})

	ack := m.CreateRoom("conn-1", protocol.CreateRoom{Name: "alice", Public: false})
	require.True(t, ack.OK)

	require.Empty(t, m.ListRooms(protocol.RoomFilter{Region: directory.AnyRegion}))

	// Flipping the room public surfaces it.
	require.True(t, m.UpdateSettings("conn-1", protocol.SettingsPatch{Code: ack.Code, Public: boolPtr(true)}).OK)
	require.Len(t, m.ListRooms(protocol.RoomFilter{Region: directory.AnyRegion}), 1)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
