package models

import (
	"time"
)

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"
	StatusCheckedIn ReservationStatus = "CHECKED_IN"
	StatusCompleted ReservationStatus = "COMPLETED"
	StatusCancelled ReservationStatus = "CANCELLED"
	StatusNoShow    ReservationStatus = "NO_SHOW"
)

// Допустимые переходы. Начальное состояние только PENDING.
var transitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:   {StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
}

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// HoldsSeat reports whether a reservation in this status may keep its seat unavailable.
func (s ReservationStatus) HoldsSeat() bool {
	return s == StatusPending || s == StatusCheckedIn
}

func (s ReservationStatus) CanTransition(to ReservationStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Seat struct {
	ID          uint   `gorm:"primaryKey"`
	SeatUid     string `gorm:"type:uuid;uniqueIndex;not null"`
	MerchantUid string `gorm:"type:uuid;index;not null"`
	Zone        string `gorm:"size:80"`
	Number      string `gorm:"size:20;not null"`
	IsAvailable bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Reservation struct {
	ID             uint              `gorm:"primaryKey"`
	ReservationUid string            `gorm:"type:uuid;uniqueIndex;not null"`
	SeatID         *uint             `gorm:"index"`
	Seat           *Seat             `gorm:"foreignKey:SeatID;constraint:OnDelete:SET NULL"`
	StartTime      time.Time         `gorm:"not null;index:idx_reservations_status_start,priority:2"`
	EndTime        time.Time         `gorm:"not null;index:idx_reservations_status_end,priority:2"`
	Status         ReservationStatus `gorm:"size:20;not null;default:'PENDING';index:idx_reservations_status_start,priority:1;index:idx_reservations_status_end,priority:1"`
	Guests         int               `gorm:"not null;default:1"`
	Tables         int               `gorm:"not null;default:1"`
	CustomerName   string            `gorm:"size:80;not null;index"`
	Note           string            `gorm:"size:500"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether now falls inside the half-open window [StartTime, EndTime).
func (r *Reservation) Active(now time.Time) bool {
	return !now.Before(r.StartTime) && now.Before(r.EndTime)
}
