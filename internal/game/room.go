package game

import (
	"strings"
	"time"
)

type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhaseHint     Phase = "HINT"
	PhaseVote     Phase = "VOTE"
	PhaseGameOver Phase = "GAME_OVER"
	PhaseClosed   Phase = "CLOSED"
)

// InGame reports whether a game round is running or finished in this phase.
func (p Phase) InGame() bool {
	return p == PhaseHint || p == PhaseVote || p == PhaseGameOver
}

type Role string

const (
	RoleInnocent Role = "innocent"
	RoleImpostor Role = "impostor"
)

type Winners string

const (
	WinnersInnocents Winners = "INNOCENTS"
	WinnersImpostors Winners = "IMPOSTORS"
)

const (
	MinPlayersToStart = 3
	MinMaxPlayers     = 3
	MaxMaxPlayers     = 10
	MinHintSeconds    = 5
	MinVoteSeconds    = 10
	PlaceholderHint   = "(no hint)"

	chatCooldown = time.Second
)

type Settings struct {
	Impostors   int    `json:"impostors"`
	HintSeconds int    `json:"hintSeconds"`
	VoteSeconds int    `json:"voteSeconds"`
	MaxPlayers  int    `json:"maxPlayers"`
	Region      string `json:"region"`
	Public      bool   `json:"public"`
}

// clamp forces every field into its legal range. The impostor count is only
// bounded below here; the per-game cap of one third of the table is applied
// at game start, when the player count is known.
func (s *Settings) clamp() {
	if s.Impostors < 1 {
		s.Impostors = 1
	}
	if s.HintSeconds < MinHintSeconds {
		s.HintSeconds = MinHintSeconds
	}
	if s.VoteSeconds < MinVoteSeconds {
		s.VoteSeconds = MinVoteSeconds
	}
	if s.MaxPlayers < MinMaxPlayers {
		s.MaxPlayers = MinMaxPlayers
	}
	if s.MaxPlayers > MaxMaxPlayers {
		s.MaxPlayers = MaxMaxPlayers
	}
	if s.Region == "" {
		s.Region = "any"
	}
}

type Player struct {
	ID       string
	Name     string
	Alive    bool
	Role     Role
	Ready    bool
	LastSeen time.Time

	lastChat time.Time
}

type Hint struct {
	By   string `json:"by"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// ghost preserves a disconnected player's seat for the rejoin grace window.
type ghost struct {
	role    Role
	alive   bool
	expires time.Time
}

// Room is the aggregate for one game instance. All fields are guarded by
// the Manager's lock; nothing outside the game package touches a Room
// directly.
type Room struct {
	Code     string
	HostID   string
	Settings Settings

	Players map[string]*Player
	Order   []string // turn order; rotates between rounds
	Phase   Phase

	secret     string
	prevSecret string

	Hints     []Hint
	Votes     map[string]string // voter -> target handle or skip sentinel
	voteOrder []string          // voters in cast order, for the tie-break
	Winners   Winners

	ghosts map[string]ghost // lowercased name -> seat

	turnIdx int
	rounds  int

	// One outstanding scheduled task per kind; timerSeq invalidates stale
	// fires after cancel-then-replace.
	timerSeq  uint64
	turnTimer *time.Timer
	voteTimer *time.Timer

	voteDeadline time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt time.Time
}

func (r *Room) player(id string) *Player {
	if id == "" {
		return nil
	}
	return r.Players[id]
}

func (r *Room) nameTaken(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range r.Players {
		if strings.ToLower(p.Name) == lower {
			return true
		}
	}
	return false
}

// aliveOrder returns the turn order filtered to living players.
func (r *Room) aliveOrder() []string {
	out := make([]string, 0, len(r.Order))
	for _, id := range r.Order {
		if p := r.Players[id]; p != nil && p.Alive {
			out = append(out, id)
		}
	}
	return out
}

func (r *Room) aliveCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Alive {
			n++
		}
	}
	return n
}

func (r *Room) aliveByRole(role Role) int {
	n := 0
	for _, p := range r.Players {
		if p.Alive && p.Role == role {
			n++
		}
	}
	return n
}

// readyCount counts players toward the start gate; the host is always
// implicitly ready.
func (r *Room) readyCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Ready || p.ID == r.HostID {
			n++
		}
	}
	return n
}

// rotate shifts the turn order one position so a different player opens the
// next round.
func (r *Room) rotate() {
	if len(r.Order) < 2 {
		return
	}
	r.Order = append(r.Order[1:], r.Order[0])
}

// majorityNeeded is the elimination threshold for n alive players.
func majorityNeeded(n int) int {
	return n/2 + 1
}

// PlayerView is the per-player slice of a snapshot. Roles are concealed
// until the game is over.
type PlayerView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
	Ready bool   `json:"ready"`
	Role  Role   `json:"role,omitempty"`
}

type OrderView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Snapshot is the room-wide broadcast state. The secret is only present in
// GAME_OVER; every other phase carries an empty string so it can never leak
// to impostors mid-game.
type Snapshot struct {
	Code         string            `json:"code"`
	HostID       string            `json:"hostId"`
	Settings     Settings          `json:"settings"`
	Phase        Phase             `json:"phase"`
	Players      []PlayerView      `json:"players"`
	Order        []OrderView       `json:"order"`
	CurrentTurn  int               `json:"currentTurnIdx"`
	Hints        []Hint            `json:"hints"`
	Votes        map[string]string `json:"votes"`
	Winners      Winners           `json:"winners,omitempty"`
	SecretPlayer string            `json:"secretPlayer,omitempty"`
}

func (r *Room) snapshot() Snapshot {
	over := r.Phase == PhaseGameOver

	players := make([]PlayerView, 0, len(r.Players))
	for _, id := range r.Order {
		p := r.Players[id]
		if p == nil {
			continue
		}
		view := PlayerView{ID: p.ID, Name: p.Name, Alive: p.Alive, Ready: p.Ready}
		if over {
			view.Role = p.Role
		}
		players = append(players, view)
	}

	order := make([]OrderView, 0, len(r.Order))
	for _, id := range r.Order {
		name := "?"
		if p := r.Players[id]; p != nil {
			name = p.Name
		}
		order = append(order, OrderView{ID: id, Name: name})
	}

	votes := make(map[string]string, len(r.Votes))
	for voter, target := range r.Votes {
		votes[voter] = target
	}

	snap := Snapshot{
		Code:        r.Code,
		HostID:      r.HostID,
		Settings:    r.Settings,
		Phase:       r.Phase,
		Players:     players,
		Order:       order,
		CurrentTurn: r.turnIdx,
		Hints:       append([]Hint(nil), r.Hints...),
		Votes:       votes,
		Winners:     r.Winners,
	}
	if over {
		snap.SecretPlayer = r.secret
	}
	return snap
}
