// Package metrics defines the recorder interfaces the allocation pipeline
// reports to. Sinks such as the Prometheus and InfluxDB implementations in
// infra/metrics are built from configuration through the sink registry and
// combined with NewMultiSink when several are configured.
package metrics
