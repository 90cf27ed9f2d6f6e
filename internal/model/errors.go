// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, gateway, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrCodeGatewayAuth      = "GATEWAY_UNAUTHORIZED"
	ErrCodeGatewayFailed    = "GATEWAY_FAILED"
	ErrCodeGatewayForbidden = "GATEWAY_FORBIDDEN"
)

// NewUnauthenticatedError は未ログインエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "Googleアカウントでログインしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewGatewayUnauthorizedError はアクセストークンが無効・期限切れの場合のエラーを生成する。
func NewGatewayUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeGatewayAuth,
		Message:  "Googleのアクセストークンが無効か期限切れです。",
		Category: "gateway",
		Action:   "ログアウトしてから再度ログインしてください。",
	}
}

// NewGatewayForbiddenError は権限不足・クォータ超過のエラーを生成する。
func NewGatewayForbiddenError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeGatewayForbidden,
		Message:  fmt.Sprintf("Google APIへのアクセスが拒否されました: %s", detail),
		Category: "gateway",
		Action:   "必要な権限を許可して再度ログインするか、時間をおいてお試しください。",
	}
}

// NewGatewayFailedError は下流API呼び出しの失敗エラーを生成する。
func NewGatewayFailedError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeGatewayFailed,
		Message:  fmt.Sprintf("Google APIの呼び出しに失敗しました: %s", detail),
		Category: "gateway",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
