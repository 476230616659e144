package repository

import (
	"context"
	"time"

	"seat_reservation/pkg/models"
)

// Методы ниже образуют хранилище для реконсилера.

func (r *Repository) FindExpiredPending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error) {
	return r.Reservations.ListExpiredPending(ctx, now, graceCutoff)
}

func (r *Repository) FindActivePending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error) {
	return r.Reservations.ListActivePending(ctx, now, graceCutoff)
}

// CloseReservation moves a PENDING reservation to a terminal status and releases its
// seat in one transaction. The seat stays unavailable while another PENDING or
// CHECKED_IN reservation on it is active at now. Returns false when the row is no
// longer PENDING.
func (r *Repository) CloseReservation(ctx context.Context, id uint, to models.ReservationStatus, seatID *uint, now time.Time) (bool, error) {
	var closed bool
	err := r.WithTx(ctx, func(tx *Repository) error {
		ok, err := tx.Reservations.CompareAndSetStatus(ctx, id, models.StatusPending, to)
		if err != nil || !ok {
			return err
		}
		if seatID != nil {
			busy, err := tx.Reservations.HasActiveHolder(ctx, *seatID, id, now.UTC())
			if err != nil {
				return err
			}
			if !busy {
				if _, err := tx.Seats.SetAvailable(ctx, *seatID, true); err != nil {
					return err
				}
			}
		}
		closed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return closed, nil
}

// ClaimSeat marks the seat unavailable while the reservation is still PENDING.
func (r *Repository) ClaimSeat(ctx context.Context, reservationID, seatID uint) (bool, error) {
	var claimed bool
	err := r.WithTx(ctx, func(tx *Repository) error {
		pending, err := tx.Reservations.TouchIfPending(ctx, reservationID)
		if err != nil || !pending {
			return err
		}
		claimed, err = tx.Seats.ClaimIfAvailable(ctx, seatID)
		return err
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}
