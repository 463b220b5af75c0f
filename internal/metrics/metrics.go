// Package metrics exposes the operational counters the ingest finalize step
// and the sync engine are required to emit.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	IngestSuccess               = "Success"
	IngestFailure               = "Failure"
	IngestKbTriggerStarted      = "KbTriggerStarted"
	IngestKbTriggerSucceeded    = "KbTriggerSucceeded"
	IngestKbTriggerFailed       = "KbTriggerFailed"
	IngestKbTriggerMissingConf  = "KbTriggerMissingConfig"
)

var (
	ingestFinalize = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studybuddy",
		Subsystem: "ingest",
		Name:      "finalize_total",
		Help:      "Terminal ingest transitions and KB trigger outcomes.",
	}, []string{"result"})

	syncUsers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studybuddy",
		Subsystem: "lms_sync",
		Name:      "users_total",
		Help:      "Per-user sync outcomes from the scheduled batch.",
	}, []string{"result"})

	syncMaterials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studybuddy",
		Subsystem: "lms_sync",
		Name:      "materials_mirrored_total",
		Help:      "Canvas materials mirrored into object storage.",
	})
)

// CountIngest increments one of the ingest finalize counters.
func CountIngest(result string) {
	ingestFinalize.WithLabelValues(result).Inc()
}

// CountSyncUser records a per-user sync outcome ("ok" or "error").
func CountSyncUser(result string) {
	syncUsers.WithLabelValues(result).Inc()
}

// AddMaterialsMirrored adds to the mirrored-material counter.
func AddMaterialsMirrored(n int) {
	syncMaterials.Add(float64(n))
}
