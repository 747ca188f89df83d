package security

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProgress(t *testing.T) *RotationProgress {
	p, err := NewRotationProgress(uuid.New(), uuid.New(), uuid.New(), "clients")
	require.NoError(t, err)
	return p
}

func TestNewRotationProgress(t *testing.T) {
	t.Run("starts in progress with zero cursor", func(t *testing.T) {
		p := newProgress(t)
		assert.Equal(t, RotationStatusInProgress, p.Status)
		assert.Equal(t, uuid.Nil, p.Cursor)
		assert.True(t, p.Resumable())
	})

	t.Run("rejects missing ids", func(t *testing.T) {
		_, err := NewRotationProgress(uuid.Nil, uuid.New(), uuid.New(), "clients")
		assert.Error(t, err)
	})

	t.Run("rejects empty table", func(t *testing.T) {
		_, err := NewRotationProgress(uuid.New(), uuid.New(), uuid.New(), "")
		assert.Error(t, err)
	})
}

func TestRotationProgressTransitions(t *testing.T) {
	t.Run("advance accumulates rows and moves cursor", func(t *testing.T) {
		p := newProgress(t)
		first := uuid.New()
		require.NoError(t, p.AdvanceCursor(first, 500))
		require.NoError(t, p.AdvanceCursor(uuid.New(), 250))
		assert.Equal(t, int64(750), p.RowsMigrated)
		assert.NotEqual(t, first, p.Cursor)
	})

	t.Run("complete finishes the run", func(t *testing.T) {
		p := newProgress(t)
		require.NoError(t, p.Complete())
		assert.Equal(t, RotationStatusCompleted, p.Status)
		require.NotNil(t, p.FinishedAt)
		assert.False(t, p.Resumable())
	})

	t.Run("no transitions after completion", func(t *testing.T) {
		p := newProgress(t)
		require.NoError(t, p.Complete())
		assert.ErrorIs(t, p.AdvanceCursor(uuid.New(), 1), shared.ErrInvalidState)
		assert.ErrorIs(t, p.Fail(errors.New("x")), shared.ErrInvalidState)
	})

	t.Run("fail keeps cursor for resume", func(t *testing.T) {
		p := newProgress(t)
		last := uuid.New()
		require.NoError(t, p.AdvanceCursor(last, 500))
		require.NoError(t, p.Fail(errors.New("kms unavailable")))

		assert.Equal(t, RotationStatusFailed, p.Status)
		assert.Equal(t, "kms unavailable", p.LastError)
		assert.Equal(t, last, p.Cursor)
		assert.True(t, p.Resumable())
	})
}
