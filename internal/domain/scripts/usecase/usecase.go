package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/scripts"
	usageuc "github.com/JakeRemmich/AutoHotKey/internal/domain/usage/usecase"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/metrics"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/storage"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/rs/zerolog"
)

const (
	maxDescriptionLength = 1000
	minDescriptionLength = 5
	minDescriptionLetter = 3
)

const promptTemplate = `You are an expert AutoHotkey script generator. Convert the following natural language description into a working AutoHotkey script.

Rules:
1. Generate ONLY the AutoHotkey script code, no explanations
2. Use proper AutoHotkey syntax
3. Include comments only for complex operations
4. Make sure hotkeys use standard AutoHotkey format (e.g., ^j:: for Ctrl+J)
5. End hotkey definitions with 'return'
6. Use common AutoHotkey commands like Send, Run, WinActivate, etc.

Description: %s

AutoHotkey Script:`

type ScriptRepository interface {
	Create(ctx context.Context, s *scripts.Script) error
	ListByUser(ctx context.Context, userID string) ([]scripts.Script, error)
	FindOwned(ctx context.Context, id, userID string) (*scripts.Script, error)
	UpdateOwned(ctx context.Context, id, userID, name, description string) error
	DeleteOwned(ctx context.Context, id, userID string) error
}

type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Ledger interface {
	Reserve(ctx context.Context, u *users.User) (*usageuc.Reservation, error)
	Commit(ctx context.Context, r *usageuc.Reservation) error
	Release(ctx context.Context, r *usageuc.Reservation) error
}

type Exporter interface {
	Export(ctx context.Context, key, fileName, body string) (string, time.Time, error)
	Remove(ctx context.Context, key string) error
}

type Usecase struct {
	repo      ScriptRepository
	generator Generator
	ledger    Ledger
	exporter  Exporter
	log       zerolog.Logger
}

func NewUsecase(repo ScriptRepository, generator Generator, ledger Ledger, exporter Exporter, log zerolog.Logger) *Usecase {
	return &Usecase{
		repo:      repo,
		generator: generator,
		ledger:    ledger,
		exporter:  exporter,
		log:       log,
	}
}

var (
	errGenerationUnavailable = response.NewCodedError(http.StatusBadGateway, response.CodeGenerationFailed, "Script generation service is temporarily unavailable. Please try again later.")
	errGenerationEmpty       = response.NewCodedError(http.StatusBadGateway, response.CodeGenerationFailed, "Failed to generate a valid script. Please try rephrasing your description.")
	errScriptNotFound        = response.NewCodedError(http.StatusNotFound, response.CodeNotFound, "Script not found")
)

func invalidDescription(msg string) error {
	return response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, msg)
}

// ValidateDescription rejects descriptions too short or too noisy to turn
// into a script.
func ValidateDescription(description string) error {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return invalidDescription("Description is required and must be a non-empty string")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return invalidDescription("Description must be less than 1000 characters")
	}

	letters := 0
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	if letters < minDescriptionLetter || utf8.RuneCountInString(trimmed) < minDescriptionLength {
		return invalidDescription("Description must describe the script in at least a few words")
	}
	return nil
}

var (
	fenceOpen  = regexp.MustCompile("^```[\\w]*\\n?")
	fenceClose = regexp.MustCompile("\\n?```$")
)

// CleanScript strips a surrounding markdown code fence from model output.
func CleanScript(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = fenceOpen.ReplaceAllString(s, "")
		s = fenceClose.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

func BuildPrompt(description string) string {
	return fmt.Sprintf(promptTemplate, description)
}

// Generate turns a description into a script. Quota is reserved before the
// model is called and released again if no script comes back.
func (u Usecase) Generate(ctx context.Context, user *users.User, req scripts.GenerateRequest) (*scripts.GenerateResponse, error) {
	if err := ValidateDescription(req.Description); err != nil {
		return nil, err
	}

	reservation, err := u.ledger.Reserve(ctx, user)
	if err != nil {
		metrics.ScriptGenerations.WithLabelValues(user.SubscriptionPlan, "denied").Inc()
		return nil, err
	}
	log := u.log.With().Str("user_id", user.ExtID).Str("plan", reservation.Plan).Logger()

	raw, err := u.generator.Complete(ctx, BuildPrompt(req.Description))
	var script string
	if err == nil {
		script = CleanScript(raw)
	}
	if err != nil || script == "" {
		if relErr := u.ledger.Release(ctx, reservation); relErr != nil {
			log.Error().Err(relErr).Msg("failed to release reservation")
		}
		metrics.ScriptGenerations.WithLabelValues(reservation.Plan, "failed").Inc()
		if err != nil {
			log.Error().Err(err).Msg("script generation failed")
			return nil, errGenerationUnavailable
		}
		return nil, errGenerationEmpty
	}

	// The script is handed back even if the counter update fails; the user
	// already paid for it.
	if err := u.ledger.Commit(ctx, reservation); err != nil {
		log.Error().Err(err).Msg("failed to record script generation")
	}
	metrics.ScriptGenerations.WithLabelValues(reservation.Plan, "ok").Inc()
	log.Info().Bool("exempt", reservation.Exempt).Msg("script generated")

	return &scripts.GenerateResponse{Script: script}, nil
}

func (u Usecase) Save(ctx context.Context, user *users.User, req scripts.SaveRequest) (*scripts.SaveResponse, error) {
	s := &scripts.Script{
		UserID:              user.ExtID,
		Name:                strings.TrimSpace(req.Name),
		Description:         strings.TrimSpace(req.Description),
		Script:              strings.TrimSpace(req.Script),
		OriginalDescription: strings.TrimSpace(req.OriginalDescription),
	}
	if s.Name == "" {
		return nil, response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, "Script name is required")
	}
	if s.Script == "" {
		return nil, response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, "Script content is required")
	}

	if err := u.repo.Create(ctx, s); err != nil {
		return nil, response.InternalServerError(err)
	}
	return &scripts.SaveResponse{ScriptID: s.ID.Hex()}, nil
}

func (u Usecase) History(ctx context.Context, user *users.User) ([]scripts.Script, error) {
	list, err := u.repo.ListByUser(ctx, user.ExtID)
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	return list, nil
}

func (u Usecase) Update(ctx context.Context, user *users.User, id string, req scripts.UpdateRequest) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, "Script name is required")
	}
	return mapRepoErr(u.repo.UpdateOwned(ctx, id, user.ExtID, name, strings.TrimSpace(req.Description)))
}

func (u Usecase) Delete(ctx context.Context, user *users.User, id string) error {
	if err := u.repo.DeleteOwned(ctx, id, user.ExtID); err != nil {
		return mapRepoErr(err)
	}
	if err := u.exporter.Remove(ctx, storage.ObjectKey(user.ExtID, id)); err != nil {
		u.log.Warn().Err(err).Str("script_id", id).Msg("failed to remove script export")
	}
	return nil
}

// Download exports the script to object storage and returns a short-lived
// link to it.
func (u Usecase) Download(ctx context.Context, user *users.User, id string) (*scripts.DownloadResponse, error) {
	s, err := u.repo.FindOwned(ctx, id, user.ExtID)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	url, expiresAt, err := u.exporter.Export(ctx, storage.ObjectKey(user.ExtID, s.ID.Hex()), storage.FileName(s.Name), s.Script)
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	return &scripts.DownloadResponse{URL: url, ExpiresAt: expiresAt}, nil
}

func mapRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scripts.ErrNotFound):
		return errScriptNotFound
	default:
		return response.InternalServerError(err)
	}
}
