package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kylejryan/claims-agent-portal/internal/auth"
	"github.com/kylejryan/claims-agent-portal/internal/claims"
	"github.com/kylejryan/claims-agent-portal/internal/directory"
	"github.com/kylejryan/claims-agent-portal/internal/portal"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, idle time.Duration) (*Manager, *clock) {
	t.Helper()
	store := rtdb.NewMemory()
	log := zaptest.NewLogger(t)
	factory := func(sess *auth.Session) *portal.Machine {
		return portal.New(portal.Deps{
			Auth:      sess,
			Store:     store,
			Directory: directory.New(store, 2, "de"),
			Records:   claims.NewBrowser(store, nil),
			Log:       log,
		})
	}
	m := NewManager(auth.NewMemory(), factory, idle, log)
	c := &clock{t: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)}
	m.now = c.now
	return m, c
}

func TestManager_CreateGetDestroy(t *testing.T) {
	m, _ := newManager(t, time.Minute)

	e, v := m.Create(context.Background())
	assert.Equal(t, portal.StateLogin, v.State)
	assert.Len(t, e.ID, 26)

	got, err := m.Get(e.ID)
	require.NoError(t, err)
	assert.Same(t, e, got)

	m.Destroy(e.ID)
	_, err = m.Get(e.ID)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, m.Len())

	// destroying twice is harmless
	m.Destroy(e.ID)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m, _ := newManager(t, time.Minute)
	a, _ := m.Create(context.Background())
	b, _ := m.Create(context.Background())
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, a.Auth, b.Auth)
}

func TestManager_SweepExpiresIdle(t *testing.T) {
	m, c := newManager(t, 30*time.Minute)
	stale, _ := m.Create(context.Background())
	c.advance(20 * time.Minute)
	fresh, _ := m.Create(context.Background())
	c.advance(15 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	_, err := m.Get(stale.ID)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestManager_GetTouches(t *testing.T) {
	m, c := newManager(t, 30*time.Minute)
	e, _ := m.Create(context.Background())
	c.advance(25 * time.Minute)
	_, err := m.Get(e.ID)
	require.NoError(t, err)
	c.advance(25 * time.Minute)

	assert.Zero(t, m.Sweep())
}

func TestManager_StartStop(t *testing.T) {
	m, c := newManager(t, time.Minute)
	m.Start(5 * time.Millisecond)
	m.Create(context.Background())
	c.advance(2 * time.Minute)

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)

	m.Create(context.Background())
	m.Stop()
	m.Stop()
	assert.Zero(t, m.Len())
}

func TestManager_ExpireSkipsSessionTouchedAfterScan(t *testing.T) {
	m, c := newManager(t, 30*time.Minute)
	e, _ := m.Create(context.Background())
	c.advance(31 * time.Minute)
	cutoff := c.now().Add(-30 * time.Minute)

	// the session is used after the sweeper computed its cutoff
	_, err := m.Get(e.ID)
	require.NoError(t, err)

	assert.False(t, m.expire(e.ID, cutoff))
	_, err = m.Get(e.ID)
	assert.NoError(t, err)

	c.advance(31 * time.Minute)
	assert.True(t, m.expire(e.ID, c.now().Add(-30*time.Minute)))
	assert.False(t, m.expire(e.ID, c.now()))
	assert.Zero(t, m.Len())
}
