package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectRequiresDSN(t *testing.T) {
	_, err := Connect("", PoolOptions{})
	require.EqualError(t, err, "postgres dsn is required")
}

func TestPoolOptionsDefaults(t *testing.T) {
	opts := PoolOptions{MaxOpenConns: 4}.withDefaults()
	require.Equal(t, 4, opts.MaxOpenConns)
	require.Equal(t, 5, opts.MaxIdleConns)
	require.Equal(t, 30*time.Minute, opts.ConnMaxLifetime)
	require.Equal(t, 5*time.Second, opts.PingTimeout)
}

func TestCloseToleratesNilHandle(t *testing.T) {
	var pg *Postgres
	require.NoError(t, pg.Close())
}
