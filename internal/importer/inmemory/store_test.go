package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-import/internal/domain"
)

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	u := domain.NewStatementUpload("alice", "jan.csv", "", time.Now())
	require.NoError(t, s.Save(ctx, u))
	assert.Equal(t, int64(1), u.Version)

	got, err := s.GetByID(ctx, u.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = s.GetByID(ctx, u.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err = s.GetByIDWithTransactions(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)

	_, err = s.GetByIDWithTransactions(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	u := domain.NewStatementUpload("alice", "jan.csv", "", time.Now())
	require.NoError(t, s.Save(ctx, u))

	a, err := s.GetByID(ctx, u.ID, "alice")
	require.NoError(t, err)
	b, err := s.GetByID(ctx, u.ID, "alice")
	require.NoError(t, err)

	require.NoError(t, a.BeginParsing(time.Now()))
	require.NoError(t, s.Save(ctx, a))

	require.NoError(t, b.Cancel(time.Now()))
	err = s.Save(ctx, b)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	stored, err := s.GetByID(ctx, u.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusParsing, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestStore_DoesNotShareMemory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	u := domain.NewStatementUpload("alice", "jan.csv", "", time.Now())
	require.NoError(t, s.Save(ctx, u))
	u.OriginalFileName = "mutated"

	got, err := s.GetByID(ctx, u.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "jan.csv", got.OriginalFileName)
}

func TestStore_GetByUserID(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older := domain.NewStatementUpload("alice", "jan.csv", "", base)
	newer := domain.NewStatementUpload("alice", "feb.csv", "", base.Add(24*time.Hour))
	other := domain.NewStatementUpload("bob", "x.csv", "", base)
	for _, u := range []*domain.StatementUpload{older, newer, other} {
		require.NoError(t, s.Save(ctx, u))
	}

	list, err := s.GetByUserID(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "feb.csv", list[0].FileName)
	assert.Equal(t, "jan.csv", list[1].FileName)
	assert.Equal(t, 3, s.Len())
}
