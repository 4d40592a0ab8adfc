package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrefixesUUID(t *testing.T) {
	id := New("pay")
	require.True(t, strings.HasPrefix(id, "pay-"))
	_, err := uuid.Parse(strings.TrimPrefix(id, "pay-"))
	assert.NoError(t, err)
	assert.NotEqual(t, id, New("pay"))
}
