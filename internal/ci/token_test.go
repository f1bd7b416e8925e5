package ci_test

import (
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"regci/internal/ci"
)

func TestRandomTokenIssuer(t *testing.T) {
	issuer := ci.NewRandomTokenIssuer()

	seen := make(map[string]struct{})
	for range 1000 {
		token, err := issuer.Issue()
		require.NoError(t, err)
		assert.Len(t, token, 64)

		_, err = hex.DecodeString(token)
		assert.NoError(t, err)

		_, exists := seen[token]
		assert.False(t, exists, "duplicate token %s", token)
		seen[token] = struct{}{}
	}
}

func TestRandomTokenIssuer_EnforcesMinimumLength(t *testing.T) {
	token, err := (&ci.RandomTokenIssuer{Bytes: 4}).Issue()
	require.NoError(t, err)
	assert.Len(t, token, 64)

	_, err = strconv.ParseInt(token, 16, 64)
	assert.Error(t, err, "token must be far too long to be a numeric id")
}
