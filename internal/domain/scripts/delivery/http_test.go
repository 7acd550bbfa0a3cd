package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/scripts"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/JakeRemmich/AutoHotKey/pkg/validator"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsecase struct {
	genErr   error
	updateID string
}

func (s *stubUsecase) Generate(context.Context, *users.User, scripts.GenerateRequest) (*scripts.GenerateResponse, error) {
	if s.genErr != nil {
		return nil, s.genErr
	}
	return &scripts.GenerateResponse{Script: "^j::Send hi"}, nil
}

func (s *stubUsecase) Save(context.Context, *users.User, scripts.SaveRequest) (*scripts.SaveResponse, error) {
	return &scripts.SaveResponse{ScriptID: "abc"}, nil
}

func (s *stubUsecase) History(context.Context, *users.User) ([]scripts.Script, error) {
	return []scripts.Script{{Name: "one"}}, nil
}

func (s *stubUsecase) Update(_ context.Context, _ *users.User, id string, _ scripts.UpdateRequest) error {
	s.updateID = id
	return nil
}

func (s *stubUsecase) Delete(context.Context, *users.User, string) error {
	return response.NewCodedError(http.StatusNotFound, response.CodeNotFound, "Script not found")
}

func (s *stubUsecase) Download(context.Context, *users.User, string) (*scripts.DownloadResponse, error) {
	return &scripts.DownloadResponse{URL: "https://x"}, nil
}

func setup(stub *stubUsecase) *echo.Echo {
	e := echo.New()
	e.Validator = validator.New()
	h := NewHandler(stub)
	auth := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(string(constant.CtxKeyUser), &users.User{ExtID: "user_1"})
			return next(c)
		}
	}
	g := e.Group("/api/scripts", auth)
	g.POST("/generate", h.Generate)
	g.POST("/save", h.Save)
	g.GET("/history", h.History)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/download", h.Download)
	return e
}

func call(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGenerate_Envelope(t *testing.T) {
	rec := call(setup(&stubUsecase{}), http.MethodPost, "/api/scripts/generate", `{"description":"ctrl j types hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool                     `json:"success"`
		Data    scripts.GenerateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "^j::Send hi", body.Data.Script)
}

func TestGenerate_QuotaIs403WithCode(t *testing.T) {
	stub := &stubUsecase{genErr: response.NewCodedError(http.StatusForbidden, response.CodeQuotaExceeded, "limit")}
	rec := call(setup(stub), http.MethodPost, "/api/scripts/generate", `{"description":"ctrl j types hi"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body response.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, response.CodeQuotaExceeded, body.Code)
}

func TestSave_ValidatesNameLength(t *testing.T) {
	e := setup(&stubUsecase{})
	rec := call(e, http.MethodPost, "/api/scripts/save", `{"name":"`+strings.Repeat("n", 101)+`","script":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(e, http.MethodPost, "/api/scripts/save", `{"name":"ok","script":"x"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUpdate_UsesPathID(t *testing.T) {
	stub := &stubUsecase{}
	rec := call(setup(stub), http.MethodPut, "/api/scripts/65a1", `{"name":"n"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "65a1", stub.updateID)
}

func TestDelete_NotFound(t *testing.T) {
	rec := call(setup(&stubUsecase{}), http.MethodDelete, "/api/scripts/65a1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
