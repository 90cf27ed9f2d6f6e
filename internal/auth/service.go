// Package auth はGoogle OAuthの認可コードフローとPrincipalの組み立てを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/hitoshi/meetauth/internal/model"
)

// ErrExchangeFailed は認可コードの交換またはユーザー情報の取得に失敗したことを示す。
var ErrExchangeFailed = errors.New("authorization code exchange failed")

// コールバック失敗時に/auth/failureへ渡す理由コード。
// トークンや認可コードなどの値は含めない。
const (
	ReasonProviderError  = "provider_error"
	ReasonStateMismatch  = "state_mismatch"
	ReasonMissingCode    = "missing_code"
	ReasonExchangeFailed = "exchange_failed"
	ReasonInvalidProfile = "invalid_profile"
	ReasonSessionError   = "session_error"
	ReasonUnknown        = "unknown"
)

var knownReasons = map[string]bool{
	ReasonProviderError:  true,
	ReasonStateMismatch:  true,
	ReasonMissingCode:    true,
	ReasonExchangeFailed: true,
	ReasonInvalidProfile: true,
	ReasonSessionError:   true,
}

// NormalizeReason は未知の理由コードをReasonUnknownに置き換える。
func NormalizeReason(reason string) string {
	if knownReasons[reason] {
		return reason
	}
	return ReasonUnknown
}

// FailureReason はCompleteLoginのエラーを理由コードに変換する。
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingProviderID), errors.Is(err, ErrMissingAccessToken):
		return ReasonInvalidProfile
	case errors.Is(err, ErrExchangeFailed):
		return ReasonExchangeFailed
	default:
		return ReasonUnknown
	}
}

// OAuthProvider はIDプロバイダーとの通信を抽象化する。
type OAuthProvider interface {
	// AuthCodeURL は認可URLを生成する。
	AuthCodeURL(state, verifier string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code, verifier string) (*ProviderResult, error)
	// RevokeToken はトークンを失効させる。
	RevokeToken(ctx context.Context, token string) error
}

// AuthRequest は/auth/startから/auth/callbackまで持ち回る認可リクエストの状態。
type AuthRequest struct {
	State    string
	Verifier string
	URL      string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	RevokeOnLogout bool
}

// Service は認証フローのビジネスロジックを提供する。
type Service struct {
	oauth  OAuthProvider
	config ServiceConfig
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, config ServiceConfig) *Service {
	return &Service{
		oauth:  oauth,
		config: config,
	}
}

// BeginLogin はstateとPKCE verifierを生成し、認可URLを組み立てる。
func (s *Service) BeginLogin() (*AuthRequest, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	return &AuthRequest{
		State:    state,
		Verifier: verifier,
		URL:      s.oauth.AuthCodeURL(state, verifier),
	}, nil
}

// CompleteLogin は認可コードを交換し、Principalを組み立てる。
// セッションへの書き込みは呼び出し側が行う。
func (s *Service) CompleteLogin(ctx context.Context, code, verifier string) (model.Principal, error) {
	result, err := s.oauth.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	principal, err := SerializePrincipal(result)
	if err != nil {
		return model.Principal{}, fmt.Errorf("failed to build principal: %w", err)
	}

	slog.Info("user logged in", slog.String("provider_id", principal.ProviderID))
	return principal, nil
}

// Logout はREVOKE_ON_LOGOUTが有効な場合にGoogle側のトークンを失効させる。
// 失効に失敗してもログアウト自体は継続するため、エラーはログ出力のみ行う。
func (s *Service) Logout(ctx context.Context, principal model.Principal) {
	if s.config.RevokeOnLogout {
		token := principal.RefreshToken
		if token == "" {
			token = principal.AccessToken
		}
		if err := s.oauth.RevokeToken(ctx, token); err != nil {
			slog.Warn("token revocation failed",
				slog.String("provider_id", principal.ProviderID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("user logged out", slog.String("provider_id", principal.ProviderID))
}

// generateState はCSRF対策用のstateパラメータを生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
