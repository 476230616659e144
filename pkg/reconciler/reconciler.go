package reconciler

import (
	"context"
	"fmt"
	"time"

	"seat_reservation/pkg/models"

	"go.uber.org/zap"
)

// DefaultGracePeriod is how long a PENDING reservation may stay unclaimed after its
// start before it is treated as abandoned.
const DefaultGracePeriod = 30 * time.Minute

// Store is the persistence the reconciler needs. Both write methods are transactional
// and conditioned on the reservation still being PENDING at write time.
type Store interface {
	// FindExpiredPending: PENDING with end_time < now or start_time <= graceCutoff.
	FindExpiredPending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error)
	// FindActivePending: PENDING with start_time <= now < end_time, start after
	// graceCutoff and the seat still flagged available.
	FindActivePending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error)
	// CloseReservation releases the seat unless another reservation holds it at now.
	CloseReservation(ctx context.Context, id uint, to models.ReservationStatus, seatID *uint, now time.Time) (bool, error)
	ClaimSeat(ctx context.Context, reservationID, seatID uint) (bool, error)
}

type Result struct {
	Completed int
	NoShow    int
	Claimed   int
	Failed    int
}

func (r Result) Expired() int { return r.Completed + r.NoShow }

type Reconciler struct {
	store Store
	grace time.Duration
	log   *zap.Logger
}

func New(store Store, grace time.Duration, log *zap.Logger) *Reconciler {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Reconciler{
		store: store,
		grace: grace,
		log:   log,
	}
}

// Run executes one reconciliation cycle: expiry first, then activation, both with the
// same now. When expired candidates cannot be read the active pass is skipped.
func (r *Reconciler) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	if err := r.expire(ctx, now, &res); err != nil {
		return res, err
	}
	if err := r.activate(ctx, now, &res); err != nil {
		return res, err
	}

	if res.Expired() > 0 || res.Claimed > 0 || res.Failed > 0 {
		r.log.Info("reconciliation completed",
			zap.Int("completed", res.Completed),
			zap.Int("no_show", res.NoShow),
			zap.Int("seats_claimed", res.Claimed),
			zap.Int("failed", res.Failed))
	}
	return res, nil
}

// ReconcileExpired closes PENDING reservations whose window elapsed (COMPLETED) or
// that were abandoned past the grace period (NO_SHOW), releasing their seats.
// Returns how many reservations were transitioned.
func (r *Reconciler) ReconcileExpired(ctx context.Context, now time.Time) (int, error) {
	var res Result
	err := r.expire(ctx, now, &res)
	return res.Expired(), err
}

// ReconcileActive marks seats of in-window PENDING reservations unavailable.
// Returns how many seats were updated.
func (r *Reconciler) ReconcileActive(ctx context.Context, now time.Time) (int, error) {
	var res Result
	err := r.activate(ctx, now, &res)
	return res.Claimed, err
}

func (r *Reconciler) expire(ctx context.Context, now time.Time, out *Result) error {
	now = now.UTC()
	candidates, err := r.store.FindExpiredPending(ctx, now, now.Add(-r.grace))
	if err != nil {
		r.log.Error("failed to load expired reservations", zap.Error(err))
		return fmt.Errorf("load expired reservations: %w", err)
	}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := &candidates[i]
		to := closingStatus(res, now)

		ok, err := r.store.CloseReservation(ctx, res.ID, to, res.SeatID, now)
		if err != nil {
			out.Failed++
			r.log.Error("failed to close reservation",
				zap.Uint("reservation_id", res.ID),
				zap.String("status", string(to)),
				zap.Error(err))
			continue
		}
		if !ok {
			// статус уже сменили вручную, ручной переход важнее
			r.log.Debug("reservation no longer pending, skipped", zap.Uint("reservation_id", res.ID))
			continue
		}

		if to == models.StatusCompleted {
			out.Completed++
		} else {
			out.NoShow++
		}
		if res.SeatID == nil {
			r.log.Warn("closed reservation without seat", zap.Uint("reservation_id", res.ID))
		}
	}
	return nil
}

func (r *Reconciler) activate(ctx context.Context, now time.Time, out *Result) error {
	now = now.UTC()
	candidates, err := r.store.FindActivePending(ctx, now, now.Add(-r.grace))
	if err != nil {
		r.log.Error("failed to load active reservations", zap.Error(err))
		return fmt.Errorf("load active reservations: %w", err)
	}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := &candidates[i]
		if res.SeatID == nil {
			continue
		}

		ok, err := r.store.ClaimSeat(ctx, res.ID, *res.SeatID)
		if err != nil {
			out.Failed++
			r.log.Error("failed to claim seat",
				zap.Uint("reservation_id", res.ID),
				zap.Uint("seat_id", *res.SeatID),
				zap.Error(err))
			continue
		}
		if ok {
			out.Claimed++
		}
	}
	return nil
}

func closingStatus(res *models.Reservation, now time.Time) models.ReservationStatus {
	if res.EndTime.Before(now) {
		return models.StatusCompleted
	}
	return models.StatusNoShow
}
