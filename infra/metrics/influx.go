package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/stockpulse/core/logger"
	coremetrics "github.com/kilianp07/stockpulse/core/metrics"
	infralogger "github.com/kilianp07/stockpulse/infra/logger"
)

// InfluxConfig locates an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes allocation points to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings InfluxDB and returns a NopSink when the
// health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) RecordOutcomes(recs []coremetrics.OutcomeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(recs))
	for _, r := range recs {
		p := write.NewPointWithMeasurement("allocation_outcome").
			AddTag("store_id", r.StoreID).
			AddTag("sku", r.SKU).
			AddTag("queue", r.Queue).
			AddTag("source", r.Source).
			AddTag("cycle_id", r.CycleID)
		if r.WarehouseID != "" {
			p = p.AddTag("warehouse_id", r.WarehouseID)
		}
		if r.Contributor != "" {
			p = p.AddTag("contributor", r.Contributor)
		}
		p = p.AddField("quantity", r.Quantity).
			AddField("fulfilled", r.Fulfilled).
			AddField("shortfall", r.Shortfall).
			SetTime(r.Time)
		points = append(points, p)
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func (s *InfluxSink) RecordConsensus(recs []coremetrics.ConsensusRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(recs))
	for _, r := range recs {
		p := write.NewPointWithMeasurement("regional_consensus").
			AddTag("region", r.Region).
			AddTag("signal_type", r.SignalType).
			AddTag("level", r.Level).
			AddTag("emergency", strconv.FormatBool(r.Emergency)).
			AddField("strength", round3(r.Strength)).
			AddField("participation", round3(r.Participation)).
			AddField("confidence", round3(r.Confidence)).
			SetTime(r.Time)
		points = append(points, p)
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func (s *InfluxSink) RecordCapacity(recs []coremetrics.CapacityRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(recs))
	for _, r := range recs {
		p := write.NewPointWithMeasurement("warehouse_capacity").
			AddTag("warehouse_id", r.WarehouseID).
			AddField("max_capacity", r.MaxCapacity).
			AddField("current_utilization", r.CurrentUtilization).
			AddField("incoming_scheduled", r.IncomingScheduled).
			SetTime(r.Time)
		points = append(points, p)
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
