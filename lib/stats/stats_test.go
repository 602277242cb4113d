package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
)

func TestCommandCounters(t *testing.T) {
	c := New()
	defer c.Stop()

	c.CommandExecuted(common.CmdGet, time.Millisecond, false)
	c.CommandExecuted(common.CmdGet, 2*time.Millisecond, true)
	c.CommandExecuted(common.CmdAdd, time.Millisecond, false)
	c.CommandDropped(common.CmdInsert, "offline")
	c.RegisterGauge("dcache_connections", func() float64 { return 3 })

	if got := c.CommandCount(common.CmdGet); got != 2 {
		t.Errorf("expected 2 gets, got %d", got)
	}
	if got := c.FailureCount(common.CmdGet); got != 1 {
		t.Errorf("expected 1 failed get, got %d", got)
	}
	if got := c.FailureCount(common.CmdAdd); got != 0 {
		t.Errorf("expected no failed add, got %d", got)
	}

	var buf bytes.Buffer
	c.WritePrometheus(&buf)
	out := buf.String()
	for _, want := range []string{
		`dcache_commands_total{command="get"} 2`,
		`dcache_command_failures_total{command="get"} 1`,
		`dcache_commands_dropped_total{command="insert",reason="offline"} 1`,
		`dcache_connections 3`,
		`dcache_command_duration_seconds_bucket{command="add"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition misses %q:\n%s", want, out)
		}
	}
}

func TestAveragedCounters(t *testing.T) {
	c := New()
	defer c.Stop()

	c.MsecPerCacheOperation(2 * time.Millisecond)
	c.MsecPerCacheOperation(4 * time.Millisecond)
	c.BulkOperation(BulkAdd, 10*time.Millisecond, 10)
	c.BulkOperation(BulkDelete, time.Millisecond, 0)
	c.IncrementRequestsPerSec(5)

	s := c.Snapshot()
	tests := map[string]float64{
		"MsecPerCacheOperation": 3,
		"MsecPerAddBulkAvg":     1,
		"MsecPerDelBulkAvg":     0,
	}
	for name, want := range tests {
		if got := s.Counters[name]; got != want {
			t.Errorf("%s: expected %.3f, got %.3f", name, want, got)
		}
	}
	if s.Requests != 5 {
		t.Errorf("expected 5 requests, got %d", s.Requests)
	}
	if !strings.Contains(s.String(), "MsecPerGetBulkAvg") {
		t.Errorf("snapshot misses a bulk counter:\n%s", s)
	}
}

func TestBulkKindOf(t *testing.T) {
	tests := map[common.CommandType]BulkKind{
		common.CmdBulkAdd:      BulkAdd,
		common.CmdBulkInsert:   BulkUpdate,
		common.CmdBulkGet:      BulkGet,
		common.CmdContainsBulk: BulkGet,
		common.CmdBulkRemove:   BulkDelete,
		common.CmdBulkDelete:   BulkDelete,
	}
	for cmd, want := range tests {
		got, ok := BulkKindOf(cmd)
		if !ok || got != want {
			t.Errorf("%s: expected %s, got %s (%v)", cmd, want, got, ok)
		}
	}
	if _, ok := BulkKindOf(common.CmdGet); ok {
		t.Error("get is not a bulk command")
	}
}
