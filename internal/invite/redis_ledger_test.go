package invite

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLedger(t *testing.T, ttl time.Duration) (*RedisLedger, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	ledger, err := NewRedisLedger("redis://"+s.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger, s
}

func TestNewRedisLedgerRejectsBadURL(t *testing.T) {
	_, err := NewRedisLedger("not a url", time.Hour)
	assert.Error(t, err)
}

func TestLedgerClaimIsFirstWins(t *testing.T) {
	ledger, _ := setupLedger(t, time.Hour)
	ctx := context.Background()

	first, err := ledger.Claim(ctx, "New@X.com")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := ledger.Claim(ctx, "  new@x.com ")
	require.NoError(t, err)
	assert.False(t, again, "same address after normalisation must not be claimed twice")
}

func TestLedgerClaimExpires(t *testing.T) {
	ledger, s := setupLedger(t, time.Minute)
	ctx := context.Background()

	_, err := ledger.Claim(ctx, "new@x.com")
	require.NoError(t, err)
	s.FastForward(2 * time.Minute)

	first, err := ledger.Claim(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestLedgerRelease(t *testing.T) {
	ledger, s := setupLedger(t, time.Hour)
	ctx := context.Background()

	_, err := ledger.Claim(ctx, "new@x.com")
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, "new@x.com"))
	assert.False(t, s.Exists("invite:new@x.com"))
}

func TestLedgerClaimFailsWhenRedisDown(t *testing.T) {
	ledger, s := setupLedger(t, time.Hour)
	s.Close()

	_, err := ledger.Claim(context.Background(), "new@x.com")
	assert.Error(t, err)
}
