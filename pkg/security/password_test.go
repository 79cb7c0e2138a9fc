package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	hash, err := h.Hash("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)
	assert.True(t, h.Compare(hash, "s3cret-pass"))
	assert.False(t, h.Compare(hash, "wrong"))
}

func TestPasswordHasherTooLong(t *testing.T) {
	_, err := NewPasswordHasher(0).Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
