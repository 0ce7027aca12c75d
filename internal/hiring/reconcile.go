package hiring

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const opReconcile = "hiring.reconcile"

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Scanned  int `json:"scanned"`
	Terminal int `json:"terminal"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// Reconciler finds decided applications whose hiring record was never written
// and writes it.
type Reconciler struct {
	service *Service
	logger  *zap.Logger
}

// NewReconciler constructs a Reconciler over service.
func NewReconciler(service *Service, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{service: service, logger: logger.With(zap.String("component", "reconciler"))}
}

// Run performs one pass. Records are keyed by application revision and created
// without overwrite, so repeated passes never duplicate or replace a record.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	ctx, span := r.service.tracer.Start(ctx, opReconcile)
	defer span.End()

	var report ReconcileReport
	items, err := r.service.store.ScanItems(ctx, r.service.tables.Applications, nil)
	if err != nil {
		return report, apperrors.FromStore(opReconcile, err)
	}
	applications, err := docstore.UnmarshalAll[Application](items)
	if err != nil {
		return report, apperrors.TransientStore(opReconcile, "decode_failed", err)
	}
	report.Scanned = len(applications)

	for _, application := range applications {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !application.Status.Terminal() {
			continue
		}
		report.Terminal++
		repaired, err := r.repair(ctx, application)
		if err != nil {
			report.Failed++
			r.logger.Error("hiring record repair failed",
				zap.String("operation", opReconcile),
				zap.String("reason", "repair_failed"),
				zap.String("application_id", application.ApplicationID),
				zap.Error(err))
			continue
		}
		if repaired {
			report.Repaired++
		}
	}
	span.SetAttributes(
		attribute.Int("reconcile.scanned", report.Scanned),
		attribute.Int("reconcile.repaired", report.Repaired),
		attribute.Int("reconcile.failed", report.Failed),
	)
	if report.Repaired > 0 || report.Failed > 0 {
		r.logger.Info("reconciliation finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("terminal", report.Terminal),
			zap.Int("repaired", report.Repaired),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (r *Reconciler) repair(ctx context.Context, application Application) (bool, error) {
	recordID := hiringRecordID(application.ApplicationID, application.Revision)
	_, err := r.service.store.GetItem(ctx, r.service.tables.HiringRecords, recordID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, docstore.ErrItemNotFound):
		return false, err
	}
	timestamp := application.DecidedAtSeconds
	if timestamp == 0 {
		timestamp = r.service.now().UTC().Unix()
	}
	record := r.service.buildRecord(ctx, application, timestamp, true)
	if err := r.service.createRecord(ctx, record); err != nil {
		if errors.Is(err, docstore.ErrConditionFailed) {
			// Decide finished its record write after our lookup.
			return false, nil
		}
		return false, err
	}
	r.logger.Warn("wrote missing hiring record",
		zap.String("application_id", application.ApplicationID),
		zap.String("revision", application.Revision),
		zap.String("status", string(application.Status)))
	return true, nil
}

// Start runs a pass every interval until ctx is done. A non-positive interval disables it.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					r.logger.Warn("scheduled reconciliation failed", zap.Error(err))
				}
			}
		}
	}()
}
