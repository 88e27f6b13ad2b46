package lock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/freight-core/finance"
)

func newTestLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Minute, nil), mr
}

func TestRedis_SecondObtainFailsFast(t *testing.T) {
	// GIVEN: a key held by one caller
	l, _ := newTestLocker(t)
	ctx := context.Background()
	release, err := l.Obtain(ctx, "lock:document:INV-1")
	require.NoError(t, err)

	// WHEN: another caller asks for the same key
	_, err = l.Obtain(ctx, "lock:document:INV-1")

	// THEN: it is told the lock is held
	assert.ErrorIs(t, err, finance.ErrLockHeld)

	// AND: after release the key can be obtained again
	release()
	release2, err := l.Obtain(ctx, "lock:document:INV-1")
	require.NoError(t, err)
	release2()
}

func TestRedis_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	r1, err := l.Obtain(ctx, "lock:club:C1")
	require.NoError(t, err)
	defer r1()

	r2, err := l.Obtain(ctx, "lock:club:C2")
	require.NoError(t, err)
	defer r2()
}

func TestRedis_ExpiredLockCanBeTaken(t *testing.T) {
	// GIVEN: a holder that never released
	l, mr := newTestLocker(t)
	ctx := context.Background()
	_, err := l.Obtain(ctx, "lock:document:INV-9")
	require.NoError(t, err)

	// WHEN: the TTL passes
	mr.FastForward(2 * time.Minute)

	// THEN: the key is free
	release, err := l.Obtain(ctx, "lock:document:INV-9")
	require.NoError(t, err)
	release()
}

func TestRedis_ServiceReportsHeldLockAsConflict(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()
	release, err := l.Obtain(ctx, "lock:club:C1")
	require.NoError(t, err)
	defer release()

	svc := finance.NewService(nil, finance.WithLocker(l))
	_, err = svc.UpsertClubBatch(ctx, finance.ClubBatch{ClubNo: "C1", AWBs: []finance.AWB{"A"}})

	var ce *finance.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "lock:club:C1", ce.Key)
}

func TestRedis_ReleaseAfterExpiryIsLogged(t *testing.T) {
	// GIVEN: a holder whose key expired and was taken by someone else
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	core, logs := observer.New(zapcore.WarnLevel)
	l := NewRedis(client, time.Minute, zap.New(core))

	ctx := context.Background()
	release, err := l.Obtain(ctx, "lock:document:INV-7")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	other, err := l.Obtain(ctx, "lock:document:INV-7")
	require.NoError(t, err)
	defer other()

	// WHEN: the first holder releases
	release()

	// THEN: the failure is logged and the new holder keeps the key
	entries := logs.FilterMessage("lock release failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "lock:document:INV-7", entries[0].ContextMap()["key"])
	_, err = l.Obtain(ctx, "lock:document:INV-7")
	assert.ErrorIs(t, err, finance.ErrLockHeld)
}
