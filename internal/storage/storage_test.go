package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/google/uuid"
)

func TestMismatchColumns(t *testing.T) {
	chip, addr, exp, act := mismatchColumns(nil)
	if chip != nil || addr != nil || exp != nil || act != nil {
		t.Fatal("nil mismatch must map to NULL columns")
	}
	if mismatchFromColumns(nil, nil, nil, nil) != nil {
		t.Fatal("NULL columns must map to nil mismatch")
	}

	m := &types.Mismatch{Chip: "dac", Address: 0x040A, Expected: 0xFC03, Actual: 0x7C03}
	got := mismatchFromColumns(mismatchColumns(m))
	if got == nil || *got != *m {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestNullString(t *testing.T) {
	if nullString("") != nil {
		t.Fatal("empty string must be NULL")
	}
	if s := nullString("x"); s == nil || *s != "x" {
		t.Fatal("non-empty string lost")
	}
}

// Runs against a scratch database when DDS_TEST_DATABASE_URL is set.
func testClient(t *testing.T) *PostgresClient {
	t.Helper()
	dsn := os.Getenv("DDS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DDS_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Connect(ctx, dsn, 2)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)

	if err := c.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// idempotent
	if err := c.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema twice: %v", err)
	}
	return c
}

func TestRunLifecycle(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	run := &types.SynthRun{Command: "configure"}
	if err := c.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.ID == uuid.Nil || run.Status != types.RunStatusRunning {
		t.Fatalf("run = %+v", run)
	}

	run.Status = types.RunStatusFailed
	run.Error = "verify failed"
	run.Failure = &types.Mismatch{Chip: "lmk", Address: 0x100, Expected: 0x78, Actual: 0}
	run.ClockCount = 3
	if err := c.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := c.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != types.RunStatusFailed || got.Failure == nil || got.Failure.Address != 0x100 || got.ClockCount != 3 {
		t.Fatalf("stored run = %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not stored")
	}

	runs, err := c.RecentRuns(ctx, 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) == 0 {
		t.Fatal("no recent runs")
	}

	if err := c.FinishRun(ctx, &types.SynthRun{ID: uuid.New(), Status: types.RunStatusSuccess}); err == nil {
		t.Fatal("FinishRun of unknown run succeeded")
	}
}

func TestChannelUpsertKeepsUnsetFields(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	name := "test-" + uuid.NewString()[:8]
	freq, gain, phase := 397.76, 1.0, 90.0

	if err := c.SaveChannel(ctx, types.ChannelState{Channel: name, FrequencyMHz: &freq, Gain: &gain}); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}
	if err := c.SaveChannel(ctx, types.ChannelState{Channel: name, PhaseDeg: &phase}); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}

	states, err := c.LoadChannels(ctx)
	if err != nil {
		t.Fatalf("LoadChannels: %v", err)
	}
	for _, s := range states {
		if s.Channel != name {
			continue
		}
		if s.FrequencyMHz == nil || *s.FrequencyMHz != freq || s.PhaseDeg == nil || *s.PhaseDeg != phase || s.Gain == nil {
			t.Fatalf("stored channel = %+v", s)
		}
		return
	}
	t.Fatalf("channel %s not stored", name)
}
