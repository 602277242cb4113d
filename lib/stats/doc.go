// Package stats collects the performance counters of the server.
//
// Two kinds of counters are kept:
//   - per command counters (executions, failures, duration histograms) and
//     gauges in a VictoriaMetrics set, exposed in the Prometheus text format
//   - averaged counters in a go-metrics registry: MsecPerCacheOperation, the
//     per item bulk averages (MsecPerAddBulkAvg, MsecPerGetBulkAvg,
//     MsecPerUpdBulkAvg, MsecPerDelBulkAvg) and the RequestsPerSec meter
package stats
