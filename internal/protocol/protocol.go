// Package protocol defines the wire-level actions clients may send and the
// events the server pushes back. Every inbound payload is decoded into a
// closed, typed variant and validated before it reaches the game state
// machine.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLength = 24
	MaxHintLength = 120
	MaxChatLength = 200
	CodeLength    = 5
)

// Action type tags.
const (
	ActionCreateRoom    = "host:create"
	ActionJoinRoom      = "player:join"
	ActionSetReady      = "player:ready"
	ActionRejoin        = "player:rejoin"
	ActionUpdateSetting = "host:settings"
	ActionStartGame     = "host:start"
	ActionForceNext     = "host:forceNextTurn"
	ActionForceRestart  = "host:forceRestart"
	ActionCloseRoom     = "host:close"
	ActionSubmitHint    = "hint:submit"
	ActionCastVote      = "vote:cast"
	ActionSendChat      = "chat:send"
	ActionListRooms     = "rooms:list"
	ActionWatchRooms    = "rooms:watch"
)

// Event type tags.
const (
	EventAck       = "ack"
	EventRoom      = "room:update"
	EventPhase     = "phase"
	EventTurn      = "turn"
	EventHints     = "hint:update"
	EventVoteOpen  = "vote:open"
	EventVoteTally = "vote:update"
	EventChat      = "chat"
	EventSecret    = "secret"
	EventRoomList  = "rooms:update"
	EventHostLeft  = "host:left"
	EventClosed    = "room:closed"
)

// VoteSkip is the abstention sentinel accepted as a vote target.
const VoteSkip = "skip"

// Envelope frames every client message: a type tag, an optional request ID
// echoed back in the ack, and the action payload.
type Envelope struct {
	Type  string          `json:"type"`
	ReqID string          `json:"reqId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a server-to-client push.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Ack is the synchronous result of one action. It is delivered as an
// EventAck with the originating request ID.
type Ack struct {
	ReqID string `json:"reqId,omitempty"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func AckOK() Ack { return Ack{OK: true} }
func AckCode(code string) Ack { return Ack{OK: true, Code: code} }
func AckErr(err error) Ack { return Ack{OK: false, Error: err.Error()} }
func AckError(reason string) Ack { return Ack{OK: false, Error: reason} }

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrBadPayload    = errors.New("malformed payload")
)

// CreateRoom opens a new room with the sender as host.
type CreateRoom struct {
	Name        string `json:"name"`
	Impostors   int    `json:"impostors"`
	HintSeconds int    `json:"hintSeconds"`
	VoteSeconds int    `json:"voteSeconds"`
	MaxPlayers  int    `json:"maxPlayers"`
	Region      string `json:"region"`
	Public      bool   `json:"public"`
}

type JoinRoom struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type SetReady struct {
	Code  string `json:"code"`
	Ready bool   `json:"ready"`
}

type Rejoin struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SettingsPatch carries host edits to room settings. Nil fields are left
// untouched.
type SettingsPatch struct {
	Code        string  `json:"code"`
	Impostors   *int    `json:"impostors,omitempty"`
	HintSeconds *int    `json:"hintSeconds,omitempty"`
	VoteSeconds *int    `json:"voteSeconds,omitempty"`
	MaxPlayers  *int    `json:"maxPlayers,omitempty"`
	Region      *string `json:"region,omitempty"`
	Public      *bool   `json:"public,omitempty"`
}

type RoomOnly struct {
	Code string `json:"code"`
}

type SubmitHint struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type CastVote struct {
	Code   string `json:"code"`
	Target string `json:"target"`
}

type SendChat struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// RoomFilter selects directory entries. Region "any" (or empty) matches all
// regions; OpenOnly keeps rooms that are waiting and under capacity.
type RoomFilter struct {
	Region   string `json:"region,omitempty"`
	OpenOnly bool   `json:"openOnly,omitempty"`
}

// Decode parses an envelope's payload into its typed action. The returned
// value is one of the structs above, already validated.
func Decode(env Envelope) (any, error) {
	var action interface {
		Validate() error
	}

	switch env.Type {
	case ActionCreateRoom:
		action = &CreateRoom{}
	case ActionJoinRoom:
		action = &JoinRoom{}
	case ActionSetReady:
		action = &SetReady{}
	case ActionRejoin:
		action = &Rejoin{}
	case ActionUpdateSetting:
		action = &SettingsPatch{}
	case ActionStartGame, ActionForceNext, ActionForceRestart, ActionCloseRoom:
		action = &RoomOnly{}
	case ActionSubmitHint:
		action = &SubmitHint{}
	case ActionCastVote:
		action = &CastVote{}
	case ActionSendChat:
		action = &SendChat{}
	case ActionListRooms, ActionWatchRooms:
		action = &RoomFilter{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, action); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

// CleanName trims and bounds a display name. Returns an error when the
// result is unusable.
func CleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("name required")
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return "", fmt.Errorf("name longer than %d characters", MaxNameLength)
	}
	return trimmed, nil
}

// CleanCode uppercases and checks a room code's shape. Membership is
// checked later against live rooms.
func CleanCode(code string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(code))
	if len(upper) != CodeLength {
		return "", fmt.Errorf("room code must be %d characters", CodeLength)
	}
	return upper, nil
}

func (a *CreateRoom) Validate() error {
	cleaned, err := CleanName(a.Name)
	if err != nil {
		return err
	}
	a.Name = cleaned
	if a.Region == "" {
		a.Region = "any"
	}
	return nil
}

func (a *JoinRoom) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	cleaned, err := CleanName(a.Name)
	if err != nil {
		return err
	}
	a.Name = cleaned
	return nil
}

func (a *SetReady) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	return nil
}

func (a *Rejoin) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	cleaned, err := CleanName(a.Name)
	if err != nil {
		return err
	}
	a.Name = cleaned
	return nil
}

func (a *SettingsPatch) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	return nil
}

func (a *RoomOnly) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	return nil
}

func (a *SubmitHint) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	a.Text = CleanHint(a.Text)
	return nil
}

func (a *CastVote) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	if strings.TrimSpace(a.Target) == "" {
		return errors.New("vote target required")
	}
	return nil
}

func (a *SendChat) Validate() error {
	code, err := CleanCode(a.Code)
	if err != nil {
		return err
	}
	a.Code = code
	a.Text = strings.TrimSpace(a.Text)
	if a.Text == "" {
		return errors.New("empty message")
	}
	if utf8.RuneCountInString(a.Text) > MaxChatLength {
		a.Text = truncateRunes(a.Text, MaxChatLength)
	}
	return nil
}

func (a *RoomFilter) Validate() error {
	if a.Region == "" {
		a.Region = "any"
	}
	return nil
}

// CleanHint strips markup characters and bounds hint length.
func CleanHint(text string) string {
	cleaned := strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(text))
	return truncateRunes(cleaned, MaxHintLength)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
