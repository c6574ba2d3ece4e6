package clickhouse

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/loykin/testserve/internal/events"
	"github.com/stretchr/testify/require"
)

// Requires a reachable ClickHouse instance; set TESTSERVE_CLICKHOUSE_ADDR
// (e.g. 127.0.0.1:9000) to run.
func TestSinkSendRoundTrip(t *testing.T) {
	addr := os.Getenv("TESTSERVE_CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("TESTSERVE_CLICKHOUSE_ADDR not set; skipping ClickHouse sink test")
	}

	sink, err := New(addr, "testserve_events_test")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	err = sink.Send(context.Background(), events.Event{
		Type:       events.EventStarted,
		OccurredAt: time.Now().UTC(),
		Name:       "web",
		ConfigHash: "deadbeef",
		Pid:        123,
		BaseURL:    "http://127.0.0.1:8080",
	})
	require.NoError(t, err)
}
