package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	DB           *gorm.DB
	Seats        SeatRepo
	Reservations ReservationRepo

	now func() time.Time
}

func buildRepository(db *gorm.DB, now func() time.Time) *Repository {
	return &Repository{
		DB:           db,
		Seats:        NewSeatRepo(db),
		Reservations: NewReservationRepo(db),
		now:          now,
	}
}

func New(db *gorm.DB) *Repository { return buildRepository(db, time.Now) }

// NewWithClock is New with an explicit clock for booking and manual transitions.
func NewWithClock(db *gorm.DB, now func() time.Time) *Repository {
	return buildRepository(db, now)
}

// WithTx выполняет fn в одной транзакции на весь набор репозиториев.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(buildRepository(tx, r.now))
	})
}
