package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ StateRepository = (*GormStateRepo)(nil)

type GormStateRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStateRepo(db *gorm.DB) *GormStateRepo {
	return &GormStateRepo{db: db, now: time.Now}
}

func (r *GormStateRepo) Get(ctx context.Context, webhookID string) (*domain.DispatcherState, error) {
	var model DispatcherStateModel
	err := r.db.WithContext(ctx).
		First(&model, "webhook_id = ? AND key = ?", webhookID, StateKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeState(model.Value)
}

func (r *GormStateRepo) Put(ctx context.Context, state *domain.DispatcherState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}

	model := DispatcherStateModel{
		WebhookID: state.ID,
		Key:       StateKey,
		Value:     raw,
		UpdatedAt: r.now().UTC(),
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "webhook_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert dispatcher state: %w", err)
	}
	return nil
}

func (r *GormStateRepo) DeleteAll(ctx context.Context, webhookID string) error {
	err := r.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Delete(&DispatcherStateModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete dispatcher state: %w", err)
	}
	return nil
}
