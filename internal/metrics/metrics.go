package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecordingCounter returns the total number of archived recordings.
type RecordingCounter interface {
	Count(ctx context.Context) (int64, error)
}

// CallEventCounter returns call event counts grouped by event type.
type CallEventCounter interface {
	CountByEvent(ctx context.Context) (map[string]int64, error)
}

// CallerLister exposes the caller directories present in the archive.
type CallerLister interface {
	Callers() ([]string, error)
}

// Collector is a prometheus.Collector that gathers CallScribe metrics at scrape time.
type Collector struct {
	recordings RecordingCounter
	events     CallEventCounter
	archive    CallerLister
	startTime  time.Time

	// Metric descriptors.
	recordingsDesc *prometheus.Desc
	eventsDesc     *prometheus.Desc
	callersDesc    *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	recordings RecordingCounter,
	events CallEventCounter,
	archive CallerLister,
	startTime time.Time,
) *Collector {
	return &Collector{
		recordings: recordings,
		events:     events,
		archive:    archive,
		startTime:  startTime,

		recordingsDesc: prometheus.NewDesc(
			"callscribe_recordings_total",
			"Total number of recordings archived in the ledger",
			nil, nil,
		),
		eventsDesc: prometheus.NewDesc(
			"callscribe_call_events_total",
			"Total call events recorded, by event type",
			[]string{"event"}, nil,
		),
		callersDesc: prometheus.NewDesc(
			"callscribe_archived_callers",
			"Number of caller directories in the recording archive",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callscribe_uptime_seconds",
			"Seconds since the CallScribe process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordingsDesc
	ch <- c.eventsDesc
	ch <- c.callersDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Archived recordings counter.
	if c.recordings != nil {
		count, err := c.recordings.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count recordings", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.recordingsDesc, prometheus.CounterValue,
				float64(count),
			)
		}
	}

	// Call event counters by event type.
	if c.events != nil {
		counts, err := c.events.CountByEvent(ctx)
		if err != nil {
			slog.Error("metrics: failed to count call events", "error", err)
		} else {
			for event, count := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.eventsDesc, prometheus.CounterValue,
					float64(count), event,
				)
			}
		}
	}

	// Caller directory gauge.
	if c.archive != nil {
		callers, err := c.archive.Callers()
		if err != nil {
			slog.Error("metrics: failed to list archived callers", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.callersDesc, prometheus.GaugeValue,
				float64(len(callers)),
			)
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
