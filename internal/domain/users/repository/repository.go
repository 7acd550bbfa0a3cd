package repository

import (
	"context"
	"errors"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"gorm.io/gorm"
)

type User struct {
	db *gorm.DB
}

func NewUser(db *gorm.DB) *User {
	return &User{db: db}
}

func (u User) CreateNewUser(ctx context.Context, user *users.User) error {
	return u.db.WithContext(ctx).Create(user).Error
}

func (u User) findOne(ctx context.Context, query string, arg interface{}) (*users.User, error) {
	var user users.User
	err := u.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (u User) FindUserByEmail(ctx context.Context, email string) (*users.User, error) {
	return u.findOne(ctx, "email = ?", email)
}

func (u User) FindUserByExtID(ctx context.Context, extID string) (*users.User, error) {
	return u.findOne(ctx, "ext_id = ?", extID)
}

func (u User) FindUserByStripeCustomerID(ctx context.Context, customerID string) (*users.User, error) {
	return u.findOne(ctx, "stripe_customer_id = ?", customerID)
}

func (u User) FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (*users.User, error) {
	return u.findOne(ctx, "stripe_subscription_id = ?", subscriptionID)
}

func (u User) model(ctx context.Context, extID string) *gorm.DB {
	return u.db.WithContext(ctx).Model(&users.User{}).Where("ext_id = ?", extID)
}

// StartSession stores a freshly minted refresh token, replacing any previous
// one, and stamps the login time when loginAt is set.
func (u User) StartSession(ctx context.Context, extID, tokenHash string, loginAt *time.Time) error {
	fields := map[string]interface{}{"refresh_token_hash": tokenHash}
	if loginAt != nil {
		fields["last_login_at"] = *loginAt
	}
	return u.model(ctx, extID).Updates(fields).Error
}

// RotateRefreshToken swaps oldHash for newHash only if oldHash is still the
// stored value. It reports false when another rotation or a logout won.
func (u User) RotateRefreshToken(ctx context.Context, extID, oldHash, newHash string) (bool, error) {
	res := u.db.WithContext(ctx).Model(&users.User{}).
		Where("ext_id = ? AND refresh_token_hash = ?", extID, oldHash).
		Update("refresh_token_hash", newHash)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClearRefreshToken ends the session only if tokenHash is the current one.
func (u User) ClearRefreshToken(ctx context.Context, extID, tokenHash string) error {
	return u.db.WithContext(ctx).Model(&users.User{}).
		Where("ext_id = ? AND refresh_token_hash = ?", extID, tokenHash).
		Update("refresh_token_hash", nil).Error
}

func (u User) UpdatePassword(ctx context.Context, extID, passwordHash, tokenHash string) error {
	return u.model(ctx, extID).Updates(map[string]interface{}{
		"password":           passwordHash,
		"refresh_token_hash": tokenHash,
	}).Error
}

func (u User) UpdateEmail(ctx context.Context, extID, email string) error {
	return u.model(ctx, extID).Update("email", email).Error
}

func (u User) SetStripeCustomerID(ctx context.Context, extID, customerID string) error {
	return u.model(ctx, extID).Update("stripe_customer_id", customerID).Error
}

func (u User) MarkCanceling(ctx context.Context, extID string) error {
	return u.model(ctx, extID).Update("subscription_status", constant.SubscriptionCanceling).Error
}

func (u User) CountActiveSubscribers(ctx context.Context, planID int) (int64, error) {
	var n int64
	err := u.db.WithContext(ctx).Model(&users.User{}).
		Where("subscription_plan_id = ? AND subscription_status IN ?", planID, []string{"active", "past_due"}).
		Count(&n).Error
	return n, err
}

// The statements below make up the usage ledger. Each one is a single
// UPDATE so concurrent generations and webhook deliveries never lose writes.

// IncrementScriptCount records one successful generation.
func (u User) IncrementScriptCount(ctx context.Context, extID string) error {
	return u.model(ctx, extID).
		Update("scripts_generated_count", gorm.Expr("scripts_generated_count + ?", 1)).Error
}

// ReserveCredit takes one credit from a per-script account. It reports false
// when the balance is already zero.
func (u User) ReserveCredit(ctx context.Context, extID string) (bool, error) {
	res := u.db.WithContext(ctx).Model(&users.User{}).
		Where("ext_id = ? AND subscription_plan = ? AND credits > 0", extID, constant.PlanPerScript).
		Update("credits", gorm.Expr("credits - ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReserveFreeGeneration counts one generation against the free quota. It
// reports false when the quota is already used or the account left the free
// plan.
func (u User) ReserveFreeGeneration(ctx context.Context, extID string, quota int) (bool, error) {
	res := u.db.WithContext(ctx).Model(&users.User{}).
		Where("ext_id = ? AND subscription_plan NOT IN ? AND scripts_generated_count < ?",
			extID, []string{constant.PlanMonthly, constant.PlanPerScript}, quota).
		Update("scripts_generated_count", gorm.Expr("scripts_generated_count + ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseFreeGeneration takes back a free generation counted for a failed
// request.
func (u User) ReleaseFreeGeneration(ctx context.Context, extID string) error {
	return u.db.WithContext(ctx).Model(&users.User{}).
		Where("ext_id = ? AND scripts_generated_count > 0", extID).
		Update("scripts_generated_count", gorm.Expr("scripts_generated_count - ?", 1)).Error
}

// RefundCredit returns a reserved credit after a failed generation.
func (u User) RefundCredit(ctx context.Context, extID string) error {
	return u.model(ctx, extID).Update("credits", gorm.Expr("credits + ?", 1)).Error
}

// DemoteExhausted moves a per-script account with no credits back to free.
// A credit granted concurrently keeps the account on per-script.
func (u User) DemoteExhausted(ctx context.Context, extID string) error {
	return u.db.WithContext(ctx).Model(&users.User{}).
		Where("ext_id = ? AND subscription_plan = ? AND credits <= 0", extID, constant.PlanPerScript).
		Updates(map[string]interface{}{
			"subscription_plan":     constant.PlanFree,
			"subscription_status":   nil,
			"subscription_end_date": nil,
		}).Error
}

// ActivateMonthly applies a completed subscription checkout.
func (u User) ActivateMonthly(ctx context.Context, extID, subscriptionID, status string, endDate *time.Time, planID *int) error {
	fields := map[string]interface{}{
		"subscription_plan":      constant.PlanMonthly,
		"subscription_status":    status,
		"subscription_end_date":  endDate,
		"stripe_subscription_id": subscriptionID,
	}
	if planID != nil {
		fields["subscription_plan_id"] = *planID
	}
	return u.model(ctx, extID).Updates(fields).Error
}

// AddCredits applies a completed one-time checkout. The balance is
// incremented in place; monthly subscribers keep their plan.
func (u User) AddCredits(ctx context.Context, extID string, n int, planID *int) error {
	fields := map[string]interface{}{
		"credits": gorm.Expr("credits + ?", n),
		"subscription_plan": gorm.Expr("CASE WHEN subscription_plan = ? THEN subscription_plan ELSE ? END",
			constant.PlanMonthly, constant.PlanPerScript),
		"subscription_status": gorm.Expr("CASE WHEN subscription_plan = ? THEN subscription_status ELSE ? END",
			constant.PlanMonthly, constant.SubscriptionActive),
	}
	if planID != nil {
		fields["subscription_plan_id"] = *planID
	}
	return u.model(ctx, extID).Updates(fields).Error
}

// UpdateSubscription refreshes status and period end for a live subscription.
func (u User) UpdateSubscription(ctx context.Context, subscriptionID, status string, endDate *time.Time) error {
	return u.db.WithContext(ctx).Model(&users.User{}).
		Where("stripe_subscription_id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"subscription_plan":     constant.PlanMonthly,
			"subscription_status":   status,
			"subscription_end_date": endDate,
		}).Error
}

// EndSubscription resets an account whose subscription was deleted.
func (u User) EndSubscription(ctx context.Context, subscriptionID string) error {
	return u.db.WithContext(ctx).Model(&users.User{}).
		Where("stripe_subscription_id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"subscription_plan":     constant.PlanFree,
			"subscription_status":   constant.SubscriptionCanceled,
			"subscription_end_date": nil,
		}).Error
}
