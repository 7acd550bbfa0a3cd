package users

import (
	"strings"
	"time"
)

type User struct {
	ID                    int        `json:"-" gorm:"primaryKey;autoIncrement"`
	ExtID                 string     `json:"id" gorm:"column:ext_id;size:64;uniqueIndex"`
	Email                 string     `json:"email" gorm:"column:email;size:255;uniqueIndex"`
	Password              string     `json:"-" gorm:"column:password"`
	Role                  string     `json:"role" gorm:"column:role;size:16;default:user"`
	SubscriptionPlan      string     `json:"subscription_plan" gorm:"column:subscription_plan;size:16;default:free"`
	Credits               int        `json:"credits" gorm:"column:credits;not null;default:0"`
	ScriptsGeneratedCount int        `json:"scripts_generated_count" gorm:"column:scripts_generated_count;not null;default:0"`
	SubscriptionStatus    *string    `json:"subscription_status" gorm:"column:subscription_status;size:32"`
	SubscriptionEndDate   *time.Time `json:"subscription_end_date" gorm:"column:subscription_end_date"`
	StripeCustomerID      *string    `json:"-" gorm:"column:stripe_customer_id;size:64;index"`
	StripeSubscriptionID  *string    `json:"-" gorm:"column:stripe_subscription_id;size:64;index"`
	SubscriptionPlanID    *int       `json:"subscription_plan_id" gorm:"column:subscription_plan_id;index"`
	RefreshTokenHash      *string    `json:"-" gorm:"column:refresh_token_hash;size:64"`
	LastLoginAt           *time.Time `json:"last_login_at" gorm:"column:last_login_at"`
	CreatedAt             time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt             time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (User) TableName() string { return "users" }

// NormalizeEmail is applied to every email before it is stored or looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest and LogoutRequest leave validation to the usecase: an empty
// refresh token has its own error code on refresh and is a no-op on logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

type UpdateEmailRequest struct {
	NewEmail string `json:"newEmail" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserProfile is the user snapshot handed to clients and persisted by them.
type UserProfile struct {
	ID                    string `json:"id"`
	Email                 string `json:"email"`
	Role                  string `json:"role"`
	SubscriptionPlan      string `json:"subscription_plan"`
	ScriptsGeneratedCount int    `json:"scripts_generated_count"`
}

func (u User) Profile() UserProfile {
	return UserProfile{
		ID:                    u.ExtID,
		Email:                 u.Email,
		Role:                  u.Role,
		SubscriptionPlan:      u.SubscriptionPlan,
		ScriptsGeneratedCount: u.ScriptsGeneratedCount,
	}
}

// AuthResponse is returned by register, login, refresh and update-password.
type AuthResponse struct {
	Success      bool        `json:"success"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         UserProfile `json:"user"`
}

type UserResponse struct {
	Success bool        `json:"success"`
	User    UserProfile `json:"user"`
}

type Usage struct {
	Plan                  string     `json:"plan"`
	ScriptsGeneratedCount int        `json:"scripts_generated_count"`
	Credits               int        `json:"credits"`
	Limit                 int        `json:"limit"`
	SubscriptionStatus    *string    `json:"subscription_status"`
	SubscriptionEndDate   *time.Time `json:"subscription_end_date"`
}

type AccountResponse struct {
	Success bool        `json:"success"`
	User    UserProfile `json:"user"`
	Usage   Usage       `json:"usage"`
}
