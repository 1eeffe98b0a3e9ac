package game

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/impostor-party/impostor/internal/protocol"
)

func TestNewRoomCodeShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := newRoomCode(func(string) bool { return false })
		require.Len(t, code, protocol.CodeLength)
		for _, c := range code {
			require.Contains(t, codeAlphabet, string(c))
		}
	}
}

func TestNewRoomCodeAvoidsCollisions(t *testing.T) {
	var rejected []string
	code := newRoomCode(func(c string) bool {
		// Refuse the first two candidates.
		if len(rejected) < 2 {
			rejected = append(rejected, c)
			return true
		}
		return false
	})
	require.NotContains(t, rejected, code)
}

func TestPickSecretNeverRepeatsImmediately(t *testing.T) {
	prev := secretPool[0]
	for i := 0; i < 100; i++ {
		secret := pickSecret(prev)
		require.NotEqual(t, prev, secret)
		require.True(t, contains(secretPool, secret))
		prev = secret
	}
}

func contains(pool []string, s string) bool {
	for _, v := range pool {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
