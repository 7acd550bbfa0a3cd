package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/metrics"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"github.com/JakeRemmich/AutoHotKey/pkg/jwt"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"
)

const mysqlDuplicateEntry = 1062

type UserRepository interface {
	CreateNewUser(ctx context.Context, user *users.User) error
	FindUserByEmail(ctx context.Context, email string) (*users.User, error)
	FindUserByExtID(ctx context.Context, extID string) (*users.User, error)
	StartSession(ctx context.Context, extID, tokenHash string, loginAt *time.Time) error
	RotateRefreshToken(ctx context.Context, extID, oldHash, newHash string) (bool, error)
	ClearRefreshToken(ctx context.Context, extID, tokenHash string) error
	UpdatePassword(ctx context.Context, extID, passwordHash, tokenHash string) error
	UpdateEmail(ctx context.Context, extID, email string) error
}

// UsageReporter summarises an account's quota.
type UsageReporter interface {
	Usage(u users.User) users.Usage
}

type Usecase struct {
	repo   UserRepository
	issuer *jwt.TokenIssuer
	usage  UsageReporter
	log    zerolog.Logger
	now    func() time.Time
}

func NewUsecase(repo UserRepository, issuer *jwt.TokenIssuer, usage UsageReporter, log zerolog.Logger) *Usecase {
	return &Usecase{
		repo:   repo,
		issuer: issuer,
		usage:  usage,
		log:    log,
		now:    time.Now,
	}
}

var (
	errInvalidCredentials  = response.NewCodedError(http.StatusUnauthorized, response.CodeInvalidCredentials, "Invalid email or password")
	errEmailTaken          = response.NewCodedError(http.StatusBadRequest, response.CodeEmailTaken, "User with this email already exists")
	errMissingRefreshToken = response.NewCodedError(http.StatusUnauthorized, response.CodeMissingRefreshToken, "Refresh token required")
	errInvalidRefreshToken = response.NewCodedError(http.StatusUnauthorized, response.CodeInvalidRefreshToken, "Invalid refresh token")
)

// hashToken is what gets stored; equal hashes mean equal tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (u Usecase) issuePair(extID string) (access, refresh string, err error) {
	access, err = u.issuer.IssueAccessToken(extID)
	if err != nil {
		return "", "", err
	}
	refresh, err = u.issuer.IssueRefreshToken(extID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// startSession mints a pair and makes its refresh token the only valid one.
func (u Usecase) startSession(ctx context.Context, user *users.User, stampLogin bool) (*users.AuthResponse, error) {
	access, refresh, err := u.issuePair(user.ExtID)
	if err != nil {
		return nil, response.InternalServerError(err)
	}

	var loginAt *time.Time
	if stampLogin {
		now := u.now()
		loginAt = &now
		user.LastLoginAt = loginAt
	}
	if err := u.repo.StartSession(ctx, user.ExtID, hashToken(refresh), loginAt); err != nil {
		return nil, response.InternalServerError(err)
	}

	return &users.AuthResponse{
		Success:      true,
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.Profile(),
	}, nil
}

func (u Usecase) Register(ctx context.Context, payload users.RegisterRequest) (*users.AuthResponse, error) {
	email := users.NormalizeEmail(payload.Email)

	existing, err := u.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	if existing != nil {
		return nil, errEmailTaken
	}

	hashPassword, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, response.InternalServerError(err)
	}

	now := u.now()
	user := &users.User{
		ExtID:            "user_" + ksuid.New().String(),
		Email:            email,
		Password:         string(hashPassword),
		Role:             constant.RoleUser,
		SubscriptionPlan: constant.PlanFree,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := u.repo.CreateNewUser(ctx, user); err != nil {
		var myErr *mysqldriver.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return nil, errEmailTaken
		}
		return nil, response.InternalServerError(err)
	}

	u.log.Info().Str("user_id", user.ExtID).Msg("user registered")
	return u.startSession(ctx, user, true)
}

func (u Usecase) Login(ctx context.Context, payload users.LoginRequest) (*users.AuthResponse, error) {
	user, err := u.repo.FindUserByEmail(ctx, users.NormalizeEmail(payload.Email))
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	if user == nil {
		return nil, errInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)); err != nil {
		return nil, errInvalidCredentials
	}

	return u.startSession(ctx, user, true)
}

// Refresh exchanges a refresh token for a new pair. The presented token must
// be the one currently stored; the swap is a compare-and-set so of two
// concurrent refreshes with the same token only one can win.
func (u Usecase) Refresh(ctx context.Context, refreshToken string) (*users.AuthResponse, error) {
	if refreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues("missing").Inc()
		return nil, errMissingRefreshToken
	}

	claims, err := u.issuer.Verify(refreshToken, jwt.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return nil, errInvalidRefreshToken
	}

	user, err := u.repo.FindUserByExtID(ctx, claims.UserID)
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	presented := hashToken(refreshToken)
	if user == nil || user.RefreshTokenHash == nil || *user.RefreshTokenHash != presented {
		metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
		return nil, errInvalidRefreshToken
	}

	access, refresh, err := u.issuePair(user.ExtID)
	if err != nil {
		return nil, response.InternalServerError(err)
	}

	swapped, err := u.repo.RotateRefreshToken(ctx, user.ExtID, presented, hashToken(refresh))
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	if !swapped {
		metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
		return nil, errInvalidRefreshToken
	}

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	return &users.AuthResponse{
		Success:      true,
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.Profile(),
	}, nil
}

// Logout never fails. A valid, current refresh token is cleared; anything
// else is ignored.
func (u Usecase) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	claims, err := u.issuer.Verify(refreshToken, jwt.RefreshToken)
	if err != nil {
		return
	}
	if err := u.repo.ClearRefreshToken(ctx, claims.UserID, hashToken(refreshToken)); err != nil {
		u.log.Warn().Err(err).Str("user_id", claims.UserID).Msg("failed to clear refresh token on logout")
	}
}

// UpdatePassword changes the password and ends every other session by
// rotating the stored refresh token. The caller receives the new pair.
func (u Usecase) UpdatePassword(ctx context.Context, user *users.User, payload users.UpdatePasswordRequest) (*users.AuthResponse, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.CurrentPassword)); err != nil {
		return nil, response.NewCodedError(http.StatusUnauthorized, response.CodeInvalidCredentials, "Current password is incorrect")
	}

	hashPassword, err := bcrypt.GenerateFromPassword([]byte(payload.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, response.InternalServerError(err)
	}

	access, refresh, err := u.issuePair(user.ExtID)
	if err != nil {
		return nil, response.InternalServerError(err)
	}

	if err := u.repo.UpdatePassword(ctx, user.ExtID, string(hashPassword), hashToken(refresh)); err != nil {
		return nil, response.InternalServerError(err)
	}

	u.log.Info().Str("user_id", user.ExtID).Msg("password updated")
	return &users.AuthResponse{
		Success:      true,
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.Profile(),
	}, nil
}

func (u Usecase) UpdateEmail(ctx context.Context, user *users.User, payload users.UpdateEmailRequest) (*users.UserResponse, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)); err != nil {
		return nil, response.NewCodedError(http.StatusUnauthorized, response.CodeInvalidCredentials, "Password is incorrect")
	}

	email := users.NormalizeEmail(payload.NewEmail)
	if email != user.Email {
		existing, err := u.repo.FindUserByEmail(ctx, email)
		if err != nil {
			return nil, response.InternalServerError(err)
		}
		if existing != nil {
			return nil, response.NewCodedError(http.StatusBadRequest, response.CodeEmailTaken, "Email is already in use")
		}

		if err := u.repo.UpdateEmail(ctx, user.ExtID, email); err != nil {
			var myErr *mysqldriver.MySQLError
			if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
				return nil, response.NewCodedError(http.StatusBadRequest, response.CodeEmailTaken, "Email is already in use")
			}
			return nil, response.InternalServerError(err)
		}
	}

	updated := *user
	updated.Email = email
	return &users.UserResponse{Success: true, User: updated.Profile()}, nil
}

// Account returns the profile and usage of the authenticated user.
func (u Usecase) Account(user *users.User) *users.AccountResponse {
	return &users.AccountResponse{
		Success: true,
		User:    user.Profile(),
		Usage:   u.usage.Usage(*user),
	}
}
