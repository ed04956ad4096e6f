package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_steps_processed_total",
		Help: "Total number of step invocations, by state and outcome",
	}, []string{"state", "status"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiapx_analysis_step_duration_seconds",
		Help:    "Duration of one step invocation",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 900},
	}, []string{"state"})

	KeyframesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_analysis_keyframes_extracted_total",
		Help: "Total number of keyframes extracted and stored",
	})

	FramesClassifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_analysis_frames_classified_total",
		Help: "Total number of frames classified and persisted",
	})

	OracleCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_oracle_calls_total",
		Help: "Classification oracle calls, by outcome",
	}, []string{"outcome"})

	LeaseRenewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_lease_renewals_total",
		Help: "Model lease renewal attempts, by result",
	}, []string{"result"})

	SpriteSheetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_analysis_sprite_sheets_total",
		Help: "Total number of sprite sheets composed",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiapx_analysis_active_workers",
		Help: "Number of currently active workers running steps",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_retry_total",
		Help: "Total number of step retries",
	}, []string{"attempt"})
)
