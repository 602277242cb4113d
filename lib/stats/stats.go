package stats

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("stats")

// BulkKind selects the per item average a bulk operation is sampled into
type BulkKind uint8

const (
	BulkAdd BulkKind = iota
	BulkGet
	BulkUpdate
	BulkDelete
	bulkKindCount
)

var bulkCounterNames = [bulkKindCount]string{
	"MsecPerAddBulkAvg",
	"MsecPerGetBulkAvg",
	"MsecPerUpdBulkAvg",
	"MsecPerDelBulkAvg",
}

func (k BulkKind) String() string {
	if k < bulkKindCount {
		return bulkCounterNames[k]
	}
	return fmt.Sprintf("BulkKind(%d)", k)
}

// BulkKindOf returns the bulk kind of a command type
func BulkKindOf(t common.CommandType) (BulkKind, bool) {
	switch t {
	case common.CmdBulkAdd:
		return BulkAdd, true
	case common.CmdBulkInsert:
		return BulkUpdate, true
	case common.CmdBulkGet, common.CmdBulkGetCacheItem, common.CmdContainsBulk:
		return BulkGet, true
	case common.CmdBulkRemove, common.CmdBulkDelete:
		return BulkDelete, true
	default:
		return 0, false
	}
}

const (
	counterMsecPerCacheOperation = "MsecPerCacheOperation"
	counterRequestsPerSec        = "RequestsPerSec"
	sampleSize                   = 1028
	sampleAlpha                  = 0.015
)

// Collector holds the performance counters of a server. The per command
// counters are exported in the Prometheus text format, the averaged counters
// are kept in a go-metrics registry.
type Collector struct {
	set      *vm.Set
	registry gometrics.Registry

	msecPerOperation gometrics.Histogram
	bulk             [bulkKindCount]gometrics.Histogram
	requestsPerSec   gometrics.Meter
}

// New creates a collector with empty counters
func New() *Collector {
	c := &Collector{
		set:      vm.NewSet(),
		registry: gometrics.NewRegistry(),
	}
	c.msecPerOperation = gometrics.GetOrRegisterHistogram(counterMsecPerCacheOperation, c.registry,
		gometrics.NewExpDecaySample(sampleSize, sampleAlpha))
	for k := BulkKind(0); k < bulkKindCount; k++ {
		c.bulk[k] = gometrics.GetOrRegisterHistogram(k.String(), c.registry,
			gometrics.NewExpDecaySample(sampleSize, sampleAlpha))
	}
	c.requestsPerSec = gometrics.GetOrRegisterMeter(counterRequestsPerSec, c.registry)
	return c
}

// --------------------------------------------------------------------------
// Per command counters (Prometheus)
// --------------------------------------------------------------------------

// CommandExecuted counts one executed command and samples its duration
func (c *Collector) CommandExecuted(t common.CommandType, d time.Duration, failed bool) {
	c.set.GetOrCreateCounter(fmt.Sprintf(`dcache_commands_total{command=%q}`, t.String())).Inc()
	if failed {
		c.set.GetOrCreateCounter(fmt.Sprintf(`dcache_command_failures_total{command=%q}`, t.String())).Inc()
	}
	c.set.GetOrCreateHistogram(fmt.Sprintf(`dcache_command_duration_seconds{command=%q}`, t.String())).Update(d.Seconds())
}

// CommandDropped counts a command that was not executed, e.g. while the
// cache is offline
func (c *Collector) CommandDropped(t common.CommandType, reason string) {
	c.set.GetOrCreateCounter(fmt.Sprintf(`dcache_commands_dropped_total{command=%q,reason=%q}`, t.String(), reason)).Inc()
}

// RegisterGauge exports the value of f under name. Registering a name twice
// keeps the first function.
func (c *Collector) RegisterGauge(name string, f func() float64) {
	c.set.GetOrCreateGauge(name, f)
}

// CommandCount returns how often a command was executed
func (c *Collector) CommandCount(t common.CommandType) uint64 {
	return c.set.GetOrCreateCounter(fmt.Sprintf(`dcache_commands_total{command=%q}`, t.String())).Get()
}

// FailureCount returns how often a command failed
func (c *Collector) FailureCount(t common.CommandType) uint64 {
	return c.set.GetOrCreateCounter(fmt.Sprintf(`dcache_command_failures_total{command=%q}`, t.String())).Get()
}

// WritePrometheus writes all per command counters and gauges
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// Handler serves the Prometheus exposition
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		c.WritePrometheus(w)
		vm.WriteProcessMetrics(w)
	})
}

// --------------------------------------------------------------------------
// Averaged counters
// --------------------------------------------------------------------------

// MsecPerCacheOperation samples the duration of one dispatched command
func (c *Collector) MsecPerCacheOperation(d time.Duration) {
	c.msecPerOperation.Update(d.Microseconds())
}

// BulkOperation samples the per item duration of a bulk command of n items
func (c *Collector) BulkOperation(kind BulkKind, d time.Duration, n int) {
	if kind >= bulkKindCount || n <= 0 {
		return
	}
	c.bulk[kind].Update(d.Microseconds() / int64(n))
}

// IncrementRequestsPerSec marks n executed requests
func (c *Collector) IncrementRequestsPerSec(n int64) {
	c.requestsPerSec.Mark(n)
}

// Snapshot is a point in time view of the averaged counters. Durations are
// in milliseconds.
type Snapshot struct {
	Counters map[string]float64
	Requests int64
}

// Snapshot returns the current averages
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{Counters: make(map[string]float64)}
	c.registry.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case gometrics.Histogram:
			s.Counters[name] = m.Mean() / 1000
		case gometrics.Meter:
			s.Counters[name] = m.Rate1()
			s.Requests = m.Count()
		}
	})
	return s
}

// String renders the snapshot sorted by counter name
func (s Snapshot) String() string {
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for _, name := range names {
		out += fmt.Sprintf("%-22s %.3f\n", name, s.Counters[name])
	}
	return out + fmt.Sprintf("%-22s %d\n", "Requests", s.Requests)
}

// Stop stops the rate meter
func (c *Collector) Stop() {
	c.requestsPerSec.Stop()
}
