package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeUnknownAction(t *testing.T) {
	_, err := Decode(Envelope{Type: "no:such:thing"})
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecodeBadPayload(t *testing.T) {
	_, err := Decode(Envelope{Type: ActionJoinRoom, Data: json.RawMessage(`{"code":42}`)})
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestDecodeCreateRoom(t *testing.T) {
	raw := json.RawMessage(`{"name":"  alice  ","maxPlayers":6,"public":true}`)
	action, err := Decode(Envelope{Type: ActionCreateRoom, Data: raw})
	require.NoError(t, err)

	create := action.(*CreateRoom)
	require.Equal(t, "alice", create.Name)
	require.Equal(t, 6, create.MaxPlayers)
	require.True(t, create.Public)
	require.Equal(t, "any", create.Region)
}

func TestDecodeJoinNormalizesCode(t *testing.T) {
	raw := json.RawMessage(`{"code":" abcde ","name":"bob"}`)
	action, err := Decode(Envelope{Type: ActionJoinRoom, Data: raw})
	require.NoError(t, err)
	require.Equal(t, "ABCDE", action.(*JoinRoom).Code)
}

func TestDecodeRoomOnlyActions(t *testing.T) {
	raw := json.RawMessage(`{"code":"ABCDE"}`)
	for _, actionType := range []string{ActionStartGame, ActionForceNext, ActionForceRestart, ActionCloseRoom} {
		action, err := Decode(Envelope{Type: actionType, Data: raw})
		require.NoError(t, err, actionType)
		require.Equal(t, "ABCDE", action.(*RoomOnly).Code)
	}
}

func TestCreateRoomRequiresName(t *testing.T) {
	_, err := Decode(Envelope{Type: ActionCreateRoom, Data: json.RawMessage(`{"name":"   "}`)})
	require.Error(t, err)
}

func TestCleanNameBounds(t *testing.T) {
	_, err := CleanName("")
	require.Error(t, err)

	_, err = CleanName(strings.Repeat("x", MaxNameLength+1))
	require.Error(t, err)

	name, err := CleanName(strings.Repeat("x", MaxNameLength))
	require.NoError(t, err)
	require.Len(t, name, MaxNameLength)
}

func TestCleanCodeShape(t *testing.T) {
	_, err := CleanCode("ABC")
	require.Error(t, err)

	_, err = CleanCode("ABCDEF")
	require.Error(t, err)

	code, err := CleanCode("abcde")
	require.NoError(t, err)
	require.Equal(t, "ABCDE", code)
}

func TestCleanHintStripsMarkupAndTruncates(t *testing.T) {
	require.Equal(t, "b", CleanHint("  <b>  "))
	require.Equal(t, "number 10", CleanHint("number <10>"))

	long := strings.Repeat("a", MaxHintLength+50)
	require.Len(t, CleanHint(long), MaxHintLength)
}

func TestCastVoteRequiresTarget(t *testing.T) {
	_, err := Decode(Envelope{Type: ActionCastVote, Data: json.RawMessage(`{"code":"ABCDE","target":"  "}`)})
	require.Error(t, err)

	action, err := Decode(Envelope{Type: ActionCastVote, Data: json.RawMessage(`{"code":"ABCDE","target":"skip"}`)})
	require.NoError(t, err)
	require.Equal(t, VoteSkip, action.(*CastVote).Target)
}

func TestSendChatTrimsAndTruncates(t *testing.T) {
	_, err := Decode(Envelope{Type: ActionSendChat, Data: json.RawMessage(`{"code":"ABCDE","text":"   "}`)})
	require.Error(t, err)

	long := strings.Repeat("b", MaxChatLength+10)
	action, err := Decode(Envelope{Type: ActionSendChat, Data: json.RawMessage(`{"code":"ABCDE","text":"`+long+`"}`)})
	require.NoError(t, err)
	require.Len(t, action.(*SendChat).Text, MaxChatLength)
}

func TestRoomFilterDefaultsToAnyRegion(t *testing.T) {
	action, err := Decode(Envelope{Type: ActionListRooms})
	require.NoError(t, err)
	require.Equal(t, "any", action.(*RoomFilter).Region)
}

func TestAckHelpers(t *testing.T) {
	require.True(t, AckOK().OK)

	ack := AckCode("ABCDE")
	require.True(t, ack.OK)
	require.Equal(t, "ABCDE", ack.Code)

	ack = AckError("boom")
	require.False(t, ack.OK)
	require.Equal(t, "boom", ack.Error)
}
