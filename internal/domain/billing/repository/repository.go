package repository

import (
	"context"
	"errors"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/billing"
	"gorm.io/gorm"
)

type Plan struct {
	db *gorm.DB
}

func NewPlan(db *gorm.DB) *Plan {
	return &Plan{db: db}
}

func (p Plan) ListPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error) {
	var plans []billing.Plan
	q := p.db.WithContext(ctx).Order("price ASC").Order("id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// FindPlan returns nil, nil when the plan does not exist.
func (p Plan) FindPlan(ctx context.Context, id int) (*billing.Plan, error) {
	var plan billing.Plan
	err := p.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (p Plan) CreatePlan(ctx context.Context, plan *billing.Plan) error {
	return p.db.WithContext(ctx).Create(plan).Error
}

func (p Plan) UpdatePlan(ctx context.Context, plan *billing.Plan) error {
	return p.db.WithContext(ctx).Save(plan).Error
}

func (p Plan) DeletePlan(ctx context.Context, id int) error {
	return p.db.WithContext(ctx).Delete(&billing.Plan{}, id).Error
}
