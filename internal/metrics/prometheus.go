package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP quotabar_uptime_seconds Time since the daemon started\n")
	sb.WriteString("# TYPE quotabar_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("quotabar_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_refresh_cycles_total Completed refresh cycles\n")
	sb.WriteString("# TYPE quotabar_refresh_cycles_total counter\n")
	sb.WriteString(fmt.Sprintf("quotabar_refresh_cycles_total %d\n", snap.CyclesTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_refresh_cycle_duration_ms_total Total refresh cycle duration in milliseconds\n")
	sb.WriteString("# TYPE quotabar_refresh_cycle_duration_ms_total counter\n")
	sb.WriteString(fmt.Sprintf("quotabar_refresh_cycle_duration_ms_total %d\n", snap.CyclesDurMs))
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_refreshes_by_trigger_total Refresh cycles by trigger\n")
	sb.WriteString("# TYPE quotabar_refreshes_by_trigger_total counter\n")
	for _, trigger := range sortedKeys(snap.RefreshesByTrig) {
		sb.WriteString(fmt.Sprintf("quotabar_refreshes_by_trigger_total{trigger=\"%s\"} %d\n", trigger, snap.RefreshesByTrig[trigger]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_source_fetches_total Attempted fetches by source\n")
	sb.WriteString("# TYPE quotabar_source_fetches_total counter\n")
	for _, src := range sortedKeys(snap.FetchesBySource) {
		sb.WriteString(fmt.Sprintf("quotabar_source_fetches_total{source=\"%s\"} %d\n", src, snap.FetchesBySource[src]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_source_fetch_errors_total Failed fetches by source\n")
	sb.WriteString("# TYPE quotabar_source_fetch_errors_total counter\n")
	for _, src := range sortedKeys(snap.ErrorsBySource) {
		sb.WriteString(fmt.Sprintf("quotabar_source_fetch_errors_total{source=\"%s\"} %d\n", src, snap.ErrorsBySource[src]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_fetch_errors_by_kind_total Failed fetches by error classification\n")
	sb.WriteString("# TYPE quotabar_fetch_errors_by_kind_total counter\n")
	for _, kind := range sortedKeys(snap.ErrorsByKind) {
		sb.WriteString(fmt.Sprintf("quotabar_fetch_errors_by_kind_total{kind=\"%s\"} %d\n", kind, snap.ErrorsByKind[kind]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_source_skipped_total Sources skipped for missing credentials\n")
	sb.WriteString("# TYPE quotabar_source_skipped_total counter\n")
	for _, src := range sortedKeys(snap.SkippedBySource) {
		sb.WriteString(fmt.Sprintf("quotabar_source_skipped_total{source=\"%s\"} %d\n", src, snap.SkippedBySource[src]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_publishes_total Cache and publication store writes\n")
	sb.WriteString("# TYPE quotabar_publishes_total counter\n")
	sb.WriteString(fmt.Sprintf("quotabar_publishes_total %d\n", snap.PublishTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP quotabar_publish_errors_total Failed cache or publication writes\n")
	sb.WriteString("# TYPE quotabar_publish_errors_total counter\n")
	sb.WriteString(fmt.Sprintf("quotabar_publish_errors_total %d\n", snap.PublishErrors))

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
