package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	got, err := Parse("  VIP ")
	require.NoError(t, err)
	assert.Equal(t, VIP, got)

	_, err = Parse("platinum")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestStaff(t *testing.T) {
	assert.True(t, Superadmin.Staff())
	assert.True(t, Cashier.Staff())
	assert.False(t, Supreme.Staff())
	assert.False(t, User.Staff())
}
