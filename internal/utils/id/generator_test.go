package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskIDIsSortableKSUID(t *testing.T) {
	first := NewTaskID()
	second := NewTaskID()
	require.True(t, strings.HasPrefix(first, taskPrefix))

	_, err := ksuid.Parse(strings.TrimPrefix(first, taskPrefix))
	require.NoError(t, err)
	assert.Len(t, first, len(taskPrefix)+27)
	assert.NotEqual(t, first, second)
}

func TestNewLogIDIsUUIDv7(t *testing.T) {
	logID := NewLogID()
	require.True(t, strings.HasPrefix(logID, logPrefix))

	parsed, err := uuid.Parse(strings.TrimPrefix(logID, logPrefix))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
