// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/meetauth/internal/auth"
	"github.com/hitoshi/meetauth/internal/config"
	"github.com/hitoshi/meetauth/internal/metrics"
	"github.com/hitoshi/meetauth/internal/middleware"
	"github.com/hitoshi/meetauth/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthPKCECookie  = "oauth_pkce"
	flowCookiePath   = "/auth"
	flowCookieMaxAge = 600 // 10分
)

// popupメッセージの種別
const (
	MessageAuthSuccess = "GOOGLE_AUTH_SUCCESS"
	MessageAuthFailure = "GOOGLE_AUTH_FAILURE"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin() (*auth.AuthRequest, error)
	CompleteLogin(ctx context.Context, code, verifier string) (model.Principal, error)
	Logout(ctx context.Context, principal model.Principal)
}

// SessionAuthenticator はログイン・ログアウト時のセッション操作を提供する。
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, w http.ResponseWriter, current *model.SessionRecord, principal model.Principal) (*model.SessionRecord, error)
	Destroy(ctx context.Context, w http.ResponseWriter, rec *model.SessionRecord) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CallbackMode      string // redirect または popup
	PopupTargetOrigin string // postMessageの宛先オリジン
	CookieSecure      bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionAuthenticator
	metrics  metrics.MetricsCollector
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionAuthenticator, collector metrics.MetricsCollector, config AuthHandlerConfig) *AuthHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		metrics:  collector,
		config:   config,
	}
}

// popupMessage はwindow.openerへ送るメッセージ。
type popupMessage struct {
	Type  string           `json:"type"`
	User  *model.Principal `json:"user,omitempty"`
	Error string           `json:"error,omitempty"`
}

type popupPage struct {
	Title        string
	Status       string
	TargetOrigin string
	Message      popupMessage
}

// meResponse は/auth/meのレスポンス。トークンは含めない。
type meResponse struct {
	ProviderID  string `json:"providerId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Start はGoogle OAuthフローを開始する。
// GET /auth/start
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.BeginLogin()
	if err != nil {
		slog.Error("failed to begin login", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.setFlowCookie(w, oauthStateCookie, req.State, flowCookieMaxAge)
	h.setFlowCookie(w, oauthPKCECookie, req.Verifier, flowCookieMaxAge)

	http.Redirect(w, r, req.URL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
//
// 失敗時はセッションを変更せず/auth/failureへリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// stateとverifierは成否に関わらず1回限り
	stateCookie, _ := r.Cookie(oauthStateCookie)
	pkceCookie, _ := r.Cookie(oauthPKCECookie)
	h.setFlowCookie(w, oauthStateCookie, "", -1)
	h.setFlowCookie(w, oauthPKCECookie, "", -1)

	if providerErr := query.Get("error"); providerErr != "" {
		h.fail(w, r, auth.ReasonProviderError, slog.String("provider_error", providerErr))
		return
	}

	state := query.Get("state")
	if stateCookie == nil || stateCookie.Value == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		h.fail(w, r, auth.ReasonStateMismatch)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.fail(w, r, auth.ReasonMissingCode)
		return
	}

	var verifier string
	if pkceCookie != nil {
		verifier = pkceCookie.Value
	}

	principal, err := h.service.CompleteLogin(r.Context(), code, verifier)
	if err != nil {
		h.fail(w, r, auth.FailureReason(err), slog.String("error", err.Error()))
		return
	}

	current := middleware.SessionFromContext(r.Context())
	if _, err := h.sessions.Authenticate(r.Context(), w, current, principal); err != nil {
		h.fail(w, r, auth.ReasonSessionError, slog.String("error", err.Error()))
		return
	}
	h.metrics.RecordLogin("success")

	if h.config.CallbackMode == config.CallbackModePopup {
		h.renderPopup(w, popupPage{
			Title:  "認証完了",
			Status: "認証が完了しました。ウィンドウを閉じています...",
			Message: popupMessage{
				Type: MessageAuthSuccess,
				User: &principal,
			},
		})
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// Failure は認証失敗時の終端ページ。
// GET /auth/failure?reason=xxx
func (h *AuthHandler) Failure(w http.ResponseWriter, r *http.Request) {
	reason := auth.NormalizeReason(r.URL.Query().Get("reason"))

	if h.config.CallbackMode == config.CallbackModePopup {
		h.renderPopup(w, popupPage{
			Title:  "認証失敗",
			Status: "認証に失敗しました。ウィンドウを閉じています...",
			Message: popupMessage{
				Type:  MessageAuthFailure,
				Error: reason,
			},
		})
		return
	}

	http.Redirect(w, r, "/?login_error="+url.QueryEscape(reason), http.StatusFound)
}

// Logout はPrincipalを破棄し、セッションを削除する。
// GET|POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rec := middleware.SessionFromContext(r.Context())

	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		h.service.Logout(r.Context(), principal)
		h.metrics.RecordLogout()
	}

	if err := h.sessions.Destroy(r.Context(), w, rec); err != nil {
		// ログアウト失敗してもCookieはクリア済み
		slog.Error("failed to destroy session", slog.String("error", err.Error()))
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// Me は現在のPrincipalのプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(meResponse{
		ProviderID:  principal.ProviderID,
		DisplayName: principal.DisplayName,
		Email:       principal.Email,
		AvatarURL:   principal.AvatarURL,
	})
}

// fail はコールバック失敗を記録し、/auth/failureへリダイレクトする。
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, reason string, attrs ...any) {
	args := append([]any{slog.String("reason", reason)}, attrs...)
	slog.Warn("oauth callback failed", args...)
	h.metrics.RecordLogin(reason)

	http.Redirect(w, r, "/auth/failure?reason="+url.QueryEscape(reason), http.StatusFound)
}

// renderPopup はopenerへメッセージを送ってウィンドウを閉じるページを返す。
func (h *AuthHandler) renderPopup(w http.ResponseWriter, page popupPage) {
	page.TargetOrigin = h.config.PopupTargetOrigin
	// 別オリジンのopenerとの関係を維持する
	w.Header().Set("Cross-Origin-Opener-Policy", "unsafe-none")
	renderPage(w, http.StatusOK, "popup.html", page)
}

func (h *AuthHandler) setFlowCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     flowCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
