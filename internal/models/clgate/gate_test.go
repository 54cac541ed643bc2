package clgate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andskur/argon2-hashing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	hashOnce   sync.Once
	secretHash string
)

func testSecretHash(t *testing.T) string {
	hashOnce.Do(func() {
		hash, err := argon2.GenerateFromPassword([]byte("vip24"), argon2.DefaultParams)
		require.NoError(t, err)
		secretHash = string(hash)
	})
	return secretHash
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// :memory: est propre à chaque connexion
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, NewGormStore(db).Migrate())
	return db
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func setupTestGate(t *testing.T) (*Gate, *GormStore, *clock) {
	store := NewGormStore(setupTestDB(t))
	gate := New(store, testPolicy, testSecretHash(t))
	clk := &clock{now: t0}
	gate.Now = clk.Now
	return gate, store, clk
}

func TestCheckAccessFirstVisit(t *testing.T) {
	gate, store, _ := setupTestGate(t)
	ctx := context.Background()

	decision, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	assert.Equal(t, StatusFree, decision.Status)
	assert.Equal(t, testPolicy.Trial, decision.Remaining)

	state, err := store.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusFree, state.Status)
	assert.True(t, t0.Equal(state.TrialStartedAt))
}

func TestCheckAccessTrialExpires(t *testing.T) {
	gate, store, clk := setupTestGate(t)
	ctx := context.Background()

	_, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)

	clk.now = t0.Add(30 * time.Second)
	decision, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	assert.Equal(t, 30*time.Second, decision.Remaining)

	clk.now = t0.Add(testPolicy.Trial + time.Millisecond)
	decision, err = gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, StatusLocked, decision.Status)

	// La transition est persistée avant la réponse
	state, err := store.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, LockedState("v1"), state)

	// Plus jamais d'essai gratuit pour ce visiteur
	clk.now = t0.Add(48 * time.Hour)
	decision, err = gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, decision.Granted)
}

func TestSubmitUnlock(t *testing.T) {
	ctx := context.Background()

	prior := map[string]func(g *Gate, clk *clock){
		"nouveau":     func(g *Gate, clk *clock) {},
		"free":        func(g *Gate, clk *clock) { g.CheckAccess(ctx, "v1") },
		"locked":      func(g *Gate, clk *clock) { g.CheckAccess(ctx, "v1"); clk.now = clk.now.Add(time.Hour); g.CheckAccess(ctx, "v1") },
		"déjà unlock": func(g *Gate, clk *clock) { g.SubmitUnlock(ctx, "v1", "vip24"); clk.now = clk.now.Add(time.Hour) },
	}

	for name, setup := range prior {
		t.Run(name, func(t *testing.T) {
			gate, store, clk := setupTestGate(t)
			setup(gate, clk)

			ok, err := gate.SubmitUnlock(ctx, "v1", "vip24")
			require.NoError(t, err)
			assert.True(t, ok)

			state, err := store.Load(ctx, "v1")
			require.NoError(t, err)
			assert.Equal(t, StatusUnlocked, state.Status)
			assert.True(t, clk.now.Equal(state.UnlockedAt))
			assert.True(t, state.TrialStartedAt.IsZero())
		})
	}
}

func TestSubmitUnlockWrongPassphrase(t *testing.T) {
	gate, store, clk := setupTestGate(t)
	ctx := context.Background()

	_, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	before, err := store.Load(ctx, "v1")
	require.NoError(t, err)

	for _, pass := range []string{"", "VIP24", "vip24 ", "vip25"} {
		clk.now = clk.now.Add(time.Second)
		ok, err := gate.SubmitUnlock(ctx, "v1", pass)
		require.NoError(t, err)
		assert.False(t, ok, pass)
	}

	after, err := store.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Un visiteur inconnu reste inconnu
	ok, err := gate.SubmitUnlock(ctx, "v2", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.Load(ctx, "v2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlockExpires(t *testing.T) {
	gate, _, clk := setupTestGate(t)
	ctx := context.Background()

	ok, err := gate.SubmitUnlock(ctx, "v1", "vip24")
	require.NoError(t, err)
	require.True(t, ok)

	for _, offset := range []time.Duration{0, time.Hour, 24*time.Hour - time.Nanosecond} {
		clk.now = t0.Add(offset)
		decision, err := gate.CheckAccess(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, decision.Granted, offset)
		assert.Equal(t, StatusUnlocked, decision.Status)
	}

	clk.now = t0.Add(24 * time.Hour)
	decision, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, StatusLocked, decision.Status)
}

func TestCheckAccessMalformedRowLocks(t *testing.T) {
	gate, store, _ := setupTestGate(t)
	ctx := context.Background()

	bad := "pas une date"
	require.NoError(t, store.db.Create(&VisitorAccess{VisitorID: "v1", AccessStatus: "free", StartTime: &bad}).Error)

	decision, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, decision.Granted)

	state, err := store.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, LockedState("v1"), state)
}

type brokenStore struct{}

func (brokenStore) Load(ctx context.Context, visitorID string) (AccessState, error) {
	return AccessState{}, errors.New("disk I/O error")
}

func (brokenStore) Save(ctx context.Context, state AccessState) error {
	return errors.New("disk I/O error")
}

func (brokenStore) Active(ctx context.Context) ([]VisitorAccess, error) {
	return nil, errors.New("disk I/O error")
}

func (brokenStore) Expire(ctx context.Context, prev VisitorAccess, next AccessState) (bool, error) {
	return false, errors.New("disk I/O error")
}

type readOnlyStore struct{ Store }

func (readOnlyStore) Save(ctx context.Context, state AccessState) error {
	return errors.New("attempt to write a readonly database")
}

func TestCheckAccessFailsClosed(t *testing.T) {
	ctx := context.Background()

	gate := New(brokenStore{}, testPolicy, testSecretHash(t))
	decision, err := gate.CheckAccess(ctx, "v1")
	assert.Error(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, StatusLocked, decision.Status)

	ok, err := gate.SubmitUnlock(ctx, "v1", "vip24")
	assert.Error(t, err)
	assert.False(t, ok)

	// Lecture possible mais écriture impossible: pas d'essai gratuit non persisté
	ro := New(readOnlyStore{NewGormStore(setupTestDB(t))}, testPolicy, testSecretHash(t))
	decision, err = ro.CheckAccess(ctx, "v2")
	assert.Error(t, err)
	assert.False(t, decision.Granted)
}

func TestCheckAccessWithoutIdentity(t *testing.T) {
	gate, _, _ := setupTestGate(t)

	decision, err := gate.CheckAccess(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.False(t, decision.Granted)
}

func TestSweep(t *testing.T) {
	gate, store, clk := setupTestGate(t)
	ctx := context.Background()

	_, err := gate.CheckAccess(ctx, "expired-trial")
	require.NoError(t, err)
	_, err = gate.SubmitUnlock(ctx, "unlocked", "vip24")
	require.NoError(t, err)
	bad := "??"
	require.NoError(t, store.db.Create(&VisitorAccess{VisitorID: "broken", AccessStatus: "unlocked", UnlockTime: &bad}).Error)

	clk.now = t0.Add(2 * time.Minute)
	_, err = gate.CheckAccess(ctx, "fresh-trial")
	require.NoError(t, err)

	n, err := gate.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]Status{
		"expired-trial": StatusLocked,
		"broken":        StatusLocked,
		"unlocked":      StatusUnlocked,
		"fresh-trial":   StatusFree,
	} {
		state, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, state.Status, id)
	}
}

// interleavedStore exécute during entre la lecture et l'écriture du balayage
type interleavedStore struct {
	*GormStore
	during func()
}

func (s *interleavedStore) Active(ctx context.Context) ([]VisitorAccess, error) {
	recs, err := s.GormStore.Active(ctx)
	if s.during != nil {
		s.during()
	}
	return recs, err
}

func TestSweepKeepsConcurrentUnlock(t *testing.T) {
	ctx := context.Background()
	store := &interleavedStore{GormStore: NewGormStore(setupTestDB(t))}
	gate := New(store, testPolicy, testSecretHash(t))
	clk := &clock{now: t0}
	gate.Now = clk.Now

	_, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)

	clk.now = t0.Add(2 * time.Minute)
	store.during = func() {
		ok, err := gate.SubmitUnlock(ctx, "v1", "vip24")
		require.NoError(t, err)
		require.True(t, ok)
	}

	n, err := gate.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	store.during = nil
	decision, err := gate.CheckAccess(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	assert.Equal(t, StatusUnlocked, decision.Status)
}

func TestExpireSkipsChangedRow(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(setupTestDB(t))

	require.NoError(t, store.Save(ctx, NewState("v1", t0)))
	recs, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	ok, err := store.Expire(ctx, recs[0], LockedState("v1"))
	require.NoError(t, err)
	assert.True(t, ok)
	state, err := store.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, LockedState("v1"), state)

	// la ligne a changé depuis la lecture
	ok, err = store.Expire(ctx, recs[0], LockedState("v1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSweeper(t *testing.T) {
	gate, _, _ := setupTestGate(t)

	c, err := NewSweeper(gate, "@every 1m")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = NewSweeper(gate, "toutes les minutes")
	assert.Error(t, err)
}
