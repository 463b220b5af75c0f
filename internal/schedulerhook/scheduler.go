// Package schedulerhook runs the periodic sync batch over every stored
// LMS connection. It is invoked from the scheduled-event path of the
// dispatcher, never from a user request.
package schedulerhook

import (
	"context"

	"studybuddy/internal/lmssync"
	"studybuddy/internal/logging"
	"studybuddy/internal/metrics"
)

// BatchReport aggregates per-user sync results for one scheduled run.
type BatchReport struct {
	UsersSynced       int               `json:"usersSynced"`
	CoursesUpserted   int               `json:"coursesUpserted"`
	ItemsUpserted     int               `json:"itemsUpserted"`
	MaterialsUpserted int               `json:"materialsUpserted"`
	MaterialsMirrored int               `json:"materialsMirrored"`
	KB                lmssync.KBStatus  `json:"kb"`
	UserErrors        map[string]string `json:"userErrors"`
}

// Batch drives the scheduled sync across all connections.
type Batch struct {
	store  *lmssync.Store
	engine *lmssync.Engine
	log    logging.Logger
}

// NewBatch wires a Batch.
func NewBatch(store *lmssync.Store, engine *lmssync.Engine, log logging.Logger) *Batch {
	return &Batch{store: store, engine: engine, log: logging.OrNop(log)}
}

// Run syncs every stored connection, continuing past per-user failures.
// One KB re-index trigger covers the whole batch when anything mirrored.
func (b *Batch) Run(ctx context.Context) (BatchReport, error) {
	conns, err := b.store.ListConnections(ctx)
	if err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{UserErrors: map[string]string{}}
	for _, conn := range conns {
		userReport, err := b.engine.SyncUserDeferKB(ctx, conn)
		if err != nil {
			b.log.Error("scheduled sync failed for user %s: %v", conn.UserID, err)
			report.UserErrors[conn.UserID] = err.Error()
			metrics.CountSyncUser("error")
			continue
		}
		metrics.CountSyncUser("ok")
		report.UsersSynced++
		report.CoursesUpserted += userReport.CoursesUpserted
		report.ItemsUpserted += userReport.ItemsUpserted
		report.MaterialsUpserted += userReport.MaterialsUpserted
		report.MaterialsMirrored += userReport.MaterialsMirrored
	}

	if report.MaterialsMirrored > 0 {
		report.KB = b.engine.TriggerReindex(ctx)
	}
	b.log.Info("scheduled sync done: users=%d mirrored=%d failures=%d",
		report.UsersSynced, report.MaterialsMirrored, len(report.UserErrors))
	return report, nil
}
