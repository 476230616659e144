package repository

import (
	"context"
	"errors"
	"time"

	"seat_reservation/pkg/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SeatRepo interface {
	Create(ctx context.Context, s *models.Seat) error
	GetByUid(ctx context.Context, seatUid string) (*models.Seat, error)
	// GetByUidForUpdate блокирует строку места до конца транзакции (postgres).
	GetByUidForUpdate(ctx context.Context, seatUid string) (*models.Seat, error)
	ListByMerchant(ctx context.Context, merchantUid string) ([]models.Seat, error)
	SetAvailable(ctx context.Context, seatID uint, available bool) (bool, error)
	// ClaimIfAvailable: is_available = false only if it is currently true.
	ClaimIfAvailable(ctx context.Context, seatID uint) (bool, error)
}

type seatRepo struct{ db *gorm.DB }

func NewSeatRepo(db *gorm.DB) SeatRepo { return &seatRepo{db: db} }

func (r *seatRepo) Create(ctx context.Context, s *models.Seat) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *seatRepo) GetByUid(ctx context.Context, seatUid string) (*models.Seat, error) {
	var s models.Seat
	err := r.db.WithContext(ctx).Where("seat_uid = ?", seatUid).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *seatRepo) GetByUidForUpdate(ctx context.Context, seatUid string) (*models.Seat, error) {
	var s models.Seat
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("seat_uid = ?", seatUid).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *seatRepo) ListByMerchant(ctx context.Context, merchantUid string) ([]models.Seat, error) {
	var list []models.Seat
	err := r.db.WithContext(ctx).
		Where("merchant_uid = ?", merchantUid).
		Order("zone ASC, number ASC").
		Find(&list).Error
	return list, err
}

func (r *seatRepo) SetAvailable(ctx context.Context, seatID uint, available bool) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Seat{}).
		Where("id = ?", seatID).
		Updates(map[string]any{"is_available": available, "updated_at": time.Now().UTC()})
	return tx.RowsAffected > 0, tx.Error
}

func (r *seatRepo) ClaimIfAvailable(ctx context.Context, seatID uint) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Seat{}).
		Where("id = ? AND is_available = ?", seatID, true).
		Updates(map[string]any{"is_available": false, "updated_at": time.Now().UTC()})
	return tx.RowsAffected > 0, tx.Error
}
