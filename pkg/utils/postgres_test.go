package utils

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 10 || got.MaxIdleConns != 10 {
		t.Fatalf("unexpected pool sizes: %+v", got)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %v", got.PingTimeout)
	}

	custom := PostgresPoolConfig{MaxOpenConns: 4}.withDefaults()
	if custom.MaxIdleConns != 4 {
		t.Fatalf("expected idle conns to follow open conns, got %d", custom.MaxIdleConns)
	}
}

func TestWithTx_NilDB(t *testing.T) {
	err := WithTx(context.Background(), nil, nil, func(ctx context.Context, tx *sql.Tx) error { return nil })
	if err == nil {
		t.Fatalf("expected error for nil db")
	}
}
