package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
)

type periodReader interface {
	ListPeriods(ctx context.Context, category string) ([]models.EnrollmentPeriod, error)
}

// PeriodGate decides whether registration is open for a student and course category.
// It keeps no state and fails closed.
type PeriodGate struct {
	periods periodReader
	logger  *zap.Logger
}

// NewPeriodGate constructs the gate.
func NewPeriodGate(periods periodReader, logger *zap.Logger) *PeriodGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodGate{periods: periods, logger: logger}
}

// Evaluate returns OPEN or PRIORITY_WINDOW when some applicable period admits the
// student at now, otherwise CLOSED with ErrPeriodClosed.
func (g *PeriodGate) Evaluate(ctx context.Context, record models.AcademicRecord, category string, now time.Time) (models.GateState, error) {
	periods, err := g.periods.ListPeriods(ctx, category)
	if err != nil {
		g.logger.Error("failed to load enrollment periods", zap.Error(err), zap.String("category", category))
		return models.GateClosed, appErrors.Wrap(err, appErrors.ErrPeriodClosed.Code, appErrors.ErrPeriodClosed.Status, appErrors.ErrPeriodClosed.Message)
	}

	best := models.GateClosed
	restricted := false
	for _, period := range periods {
		if period.Category != "" && period.Category != category {
			continue
		}
		if period.StudentGroup != "" && !record.InGroup(period.StudentGroup) {
			continue
		}
		if err := period.Validate(); err != nil {
			g.logger.Warn("ignoring invalid enrollment period", zap.String("period_id", period.ID), zap.Error(err))
			continue
		}
		switch periodState(period, now) {
		case models.GateOpen:
			return models.GateOpen, nil
		case models.GatePriorityWindow:
			if period.PriorityGroup == "" || record.InGroup(period.PriorityGroup) {
				best = models.GatePriorityWindow
			} else {
				restricted = true
			}
		}
	}

	if best == models.GatePriorityWindow {
		return best, nil
	}
	if restricted {
		return models.GateClosed, appErrors.Clone(appErrors.ErrPeriodClosed, "registration is limited to the priority group for now")
	}
	return models.GateClosed, appErrors.ErrPeriodClosed
}

func periodState(period models.EnrollmentPeriod, now time.Time) models.GateState {
	if now.Before(period.StartsAt) || !now.Before(period.EndsAt) {
		return models.GateClosed
	}
	if period.PriorityEndsAt != nil && now.Before(*period.PriorityEndsAt) {
		return models.GatePriorityWindow
	}
	return models.GateOpen
}
