package repository

import "errors"

var (
	ErrNotFound          = errors.New("reservation not found")
	ErrSeatNotFound      = errors.New("seat not found")
	ErrSeatTaken         = errors.New("seat already reserved for this time window")
	ErrStatusConflict    = errors.New("reservation status changed concurrently")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrInvalidWindow     = errors.New("start time must be before end time")
	ErrInvalidParty      = errors.New("guests and tables must be > 0")
)
