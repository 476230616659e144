package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"seat_reservation/pkg/models"

	"github.com/google/uuid"
)

type BookingInput struct {
	SeatUid      string
	StartTime    time.Time
	EndTime      time.Time
	Guests       int
	Tables       int
	CustomerName string
	Note         string
}

type SeatInput struct {
	MerchantUid string
	Zone        string
	Number      string
}

func (r *Repository) CreateSeat(ctx context.Context, in SeatInput) (*models.Seat, error) {
	seat := &models.Seat{
		SeatUid:     uuid.New().String(),
		MerchantUid: in.MerchantUid,
		Zone:        strings.TrimSpace(in.Zone),
		Number:      strings.TrimSpace(in.Number),
		IsAvailable: true,
	}
	if err := r.Seats.Create(ctx, seat); err != nil {
		return nil, fmt.Errorf("create seat: %w", err)
	}
	return seat, nil
}

// Book creates a PENDING reservation. The seat row is locked for the duration of the
// overlap check so two bookings cannot claim the same window.
func (r *Repository) Book(ctx context.Context, in BookingInput) (*models.Reservation, error) {
	start, end := in.StartTime.UTC(), in.EndTime.UTC()
	if !start.Before(end) {
		return nil, ErrInvalidWindow
	}
	if in.Guests < 1 || in.Tables < 1 {
		return nil, ErrInvalidParty
	}

	res := &models.Reservation{
		ReservationUid: uuid.New().String(),
		StartTime:      start,
		EndTime:        end,
		Status:         models.StatusPending,
		Guests:         in.Guests,
		Tables:         in.Tables,
		CustomerName:   strings.TrimSpace(in.CustomerName),
		Note:           strings.TrimSpace(in.Note),
	}

	err := r.WithTx(ctx, func(tx *Repository) error {
		seat, err := tx.Seats.GetByUidForUpdate(ctx, in.SeatUid)
		if err != nil {
			return err
		}
		if seat == nil {
			return ErrSeatNotFound
		}

		taken, err := tx.Reservations.HasOverlap(ctx, seat.ID, start, end)
		if err != nil {
			return err
		}
		if taken {
			return ErrSeatTaken
		}

		res.SeatID = &seat.ID
		if err := tx.Reservations.Create(ctx, res); err != nil {
			return err
		}

		// окно уже началось: место занимаем сразу, не дожидаясь реконсилера
		if res.Active(tx.now().UTC()) {
			if _, err := tx.Seats.SetAvailable(ctx, seat.ID, false); err != nil {
				return err
			}
			seat.IsAvailable = false
		}
		res.Seat = seat
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateStatus is the manual (owner/admin) transition. The write is conditioned on the
// status read inside the transaction; expected, when set, must match it as well.
func (r *Repository) UpdateStatus(ctx context.Context, reservationUid string, to models.ReservationStatus, expected *models.ReservationStatus) (*models.Reservation, error) {
	var out *models.Reservation

	err := r.WithTx(ctx, func(tx *Repository) error {
		res, err := tx.Reservations.GetByUid(ctx, reservationUid)
		if err != nil {
			return err
		}
		if res == nil {
			return ErrNotFound
		}

		from := res.Status
		if expected != nil && *expected != from {
			return ErrStatusConflict
		}
		if !from.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		ok, err := tx.Reservations.CompareAndSetStatus(ctx, res.ID, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStatusConflict
		}

		if res.SeatID != nil {
			if err := tx.applySeatEffect(ctx, res, from, to); err != nil {
				return err
			}
		}

		res.Status = to
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) applySeatEffect(ctx context.Context, res *models.Reservation, from, to models.ReservationStatus) error {
	seatID := *res.SeatID
	now := r.now().UTC()

	switch {
	case to == models.StatusCheckedIn:
		_, err := r.Seats.SetAvailable(ctx, seatID, false)
		if err == nil && res.Seat != nil {
			res.Seat.IsAvailable = false
		}
		return err

	case to.Terminal():
		// Будущая бронь место не держит: освобождать нечего.
		if from != models.StatusCheckedIn && !res.Active(now) {
			return nil
		}
		busy, err := r.Reservations.HasActiveHolder(ctx, seatID, res.ID, now)
		if err != nil || busy {
			return err
		}
		_, err = r.Seats.SetAvailable(ctx, seatID, true)
		if err == nil && res.Seat != nil {
			res.Seat.IsAvailable = true
		}
		return err
	}
	return nil
}
