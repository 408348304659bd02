package users

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotori-note/kabunote/pkg/store"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	db, err := store.Open(store.Config{DSN: filepath.Join(t.TempDir(), "users_test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	return NewStore(db, clk), clk
}

func TestCreateAndGet(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	u, err := s.Create(ctx, " hana@example.com ", "hana")
	require.NoError(t, err)
	_, err = uuid.Parse(u.ID)
	require.NoError(t, err)

	got, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hana@example.com", got.Email)
	assert.Equal(t, "hana", got.Nickname)
	assert.True(t, got.CreatedAt.Equal(clk.Now()))
}

func TestGetUnknown(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "a@example.com", "")
	require.NoError(t, err)
	_, err = s.Create(ctx, "a@example.com", "")
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NotErrorIs(t, err, store.ErrUnavailable)

	_, err = s.Create(ctx, "  ", "")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "a@example.com", "a")
	require.NoError(t, err)
	clk.Add(time.Second)
	_, err = s.Create(ctx, "b@example.com", "b")
	require.NoError(t, err)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a@example.com", all[0].Email)
	assert.Equal(t, "b@example.com", all[1].Email)
}
