// Package metrics publishes batch results as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

const (
	// DefaultJob is the Pushgateway job name used when none is configured.
	DefaultJob = "goswitch_backup"

	namespace = "goswitch"
	subsystem = "backup"

	lastSuccessName = namespace + "_" + subsystem + "_last_success_timestamp_seconds"
)

// Service defines the interface for metrics publication.
type Service interface {
	Publish(ctx context.Context, cfg models.MetricsConfig, summary models.BatchSummary) error
}

// Impl implements the metrics Service interface.
type Impl struct {
	httpClient push.HTTPDoer
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new metrics service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger, now: time.Now}
}

// NewWithClient creates a new metrics service with a custom HTTP client and clock (for testing).
func NewWithClient(logger zerolog.Logger, httpClient push.HTTPDoer, now func() time.Time) *Impl {
	return &Impl{httpClient: httpClient, logger: logger, now: now}
}

// Publish pushes the batch metrics to the Pushgateway and writes the textfile,
// whichever are configured.
func (s *Impl) Publish(ctx context.Context, cfg models.MetricsConfig, summary models.BatchSummary) error {
	var errs []error

	if cfg.PushgatewayURL != "" {
		job := cfg.Job
		if job == "" {
			job = DefaultJob
		}

		pusher := push.New(cfg.PushgatewayURL, job).Gatherer(s.registry(summary, 0))
		if s.httpClient != nil {
			pusher = pusher.Client(s.httpClient)
		}
		// Add (POST) keeps the previous last-success sample when this batch failed.
		if err := pusher.AddContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to push metrics to %s: %w", cfg.PushgatewayURL, err))
		} else {
			s.logger.Debug().Str("url", cfg.PushgatewayURL).Str("job", job).Msg("pushed metrics")
		}
	}

	if cfg.TextfilePath != "" {
		previous := s.previousSuccess(cfg.TextfilePath)
		if err := prometheus.WriteToTextfile(cfg.TextfilePath, s.registry(summary, previous)); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics textfile %s: %w", cfg.TextfilePath, err))
		} else {
			s.logger.Debug().Str("path", cfg.TextfilePath).Msg("wrote metrics textfile")
		}
	}

	return errors.Join(errs...)
}

// registry builds the metrics for one batch. previousSuccess is reported as the
// last success time when the batch failed and is non-zero.
func (s *Impl) registry(summary models.BatchSummary, previousSuccess float64) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	devices := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "devices",
		Help:      "Number of switches per outcome in the last batch.",
	}, []string{"outcome"})
	counts := summary.Counts()
	for _, o := range models.Outcomes {
		devices.WithLabelValues(string(o)).Set(float64(counts[o]))
	}

	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "duration_seconds",
		Help:      "Duration of the last batch.",
	})
	duration.Set(summary.Duration.Seconds())

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last batch finished.",
	})
	finished := s.now()
	lastRun.Set(float64(finished.Unix()))

	deviceDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "device_duration_seconds",
		Help:      "Time spent backing up each switch in the last batch.",
	}, []string{"device", "outcome"})
	for _, r := range summary.Results {
		deviceDuration.WithLabelValues(r.Name, string(r.Outcome())).Set(r.Duration.Seconds())
	}

	reg.MustRegister(devices, duration, lastRun, deviceDuration)

	success := float64(0)
	switch {
	case !summary.Failed():
		success = float64(finished.Unix())
	case previousSuccess > 0:
		success = previousSuccess
	}
	if success > 0 {
		lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: lastSuccessName,
			Help: "Unix time of the last batch without failed switches.",
		})
		lastSuccess.Set(success)
		reg.MustRegister(lastSuccess)
	}

	return reg
}

// previousSuccess reads the last success time from an existing textfile, or 0.
func (s *Impl) previousSuccess(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to read previous metrics")
		}
		return 0
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to parse previous metrics")
		return 0
	}

	family, ok := families[lastSuccessName]
	if !ok || len(family.GetMetric()) == 0 {
		return 0
	}
	return family.GetMetric()[0].GetGauge().GetValue()
}
