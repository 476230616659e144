package repository

import (
	"context"
	"errors"
	"time"

	"seat_reservation/pkg/models"

	"gorm.io/gorm"
)

var holdingStatuses = []models.ReservationStatus{models.StatusPending, models.StatusCheckedIn}

type ReservationRepo interface {
	Create(ctx context.Context, res *models.Reservation) error
	GetByUid(ctx context.Context, reservationUid string) (*models.Reservation, error)
	ListByCustomer(ctx context.Context, customer string) ([]models.Reservation, error)

	// HasOverlap: есть ли на месте PENDING/CHECKED_IN бронь, пересекающая [start, end).
	HasOverlap(ctx context.Context, seatID uint, start, end time.Time) (bool, error)
	// HasActiveHolder: есть ли на месте другая удерживающая бронь, активная в момент now.
	HasActiveHolder(ctx context.Context, seatID, exceptID uint, now time.Time) (bool, error)

	// CompareAndSetStatus меняет статус только если текущий равен from.
	CompareAndSetStatus(ctx context.Context, id uint, from, to models.ReservationStatus) (bool, error)
	// TouchIfPending takes the row lock and confirms the row is still PENDING.
	TouchIfPending(ctx context.Context, id uint) (bool, error)

	ListExpiredPending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error)
	ListActivePending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error)
}

type reservationRepo struct{ db *gorm.DB }

func NewReservationRepo(db *gorm.DB) ReservationRepo { return &reservationRepo{db: db} }

func (r *reservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *reservationRepo) GetByUid(ctx context.Context, reservationUid string) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.WithContext(ctx).
		Preload("Seat").
		Where("reservation_uid = ?", reservationUid).
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepo) ListByCustomer(ctx context.Context, customer string) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Preload("Seat").
		Where("customer_name = ?", customer).
		Order("start_time ASC").
		Find(&list).Error
	return list, err
}

func (r *reservationRepo) HasOverlap(ctx context.Context, seatID uint, start, end time.Time) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("seat_id = ? AND status IN ? AND start_time < ? AND end_time > ?", seatID, holdingStatuses, end, start).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *reservationRepo) HasActiveHolder(ctx context.Context, seatID, exceptID uint, now time.Time) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("seat_id = ? AND id <> ? AND status IN ? AND start_time <= ? AND end_time > ?",
			seatID, exceptID, holdingStatuses, now, now).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *reservationRepo) CompareAndSetStatus(ctx context.Context, id uint, from, to models.ReservationStatus) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	return tx.RowsAffected > 0, tx.Error
}

func (r *reservationRepo) TouchIfPending(ctx context.Context, id uint) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Update("updated_at", time.Now().UTC())
	return tx.RowsAffected > 0, tx.Error
}

func (r *reservationRepo) ListExpiredPending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND (end_time < ? OR start_time <= ?)", models.StatusPending, now, graceCutoff).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// ListActivePending returns PENDING reservations inside their window whose seat is
// still flagged available. Reservations already past the grace cutoff are left to expiry.
func (r *reservationRepo) ListActivePending(ctx context.Context, now, graceCutoff time.Time) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Select("reservations.*").
		Joins("JOIN seats ON seats.id = reservations.seat_id").
		Where("reservations.status = ?", models.StatusPending).
		Where("reservations.start_time <= ? AND reservations.end_time > ?", now, now).
		Where("reservations.start_time > ?", graceCutoff).
		Where("seats.is_available = ?", true).
		Order("reservations.id ASC").
		Find(&list).Error
	return list, err
}
