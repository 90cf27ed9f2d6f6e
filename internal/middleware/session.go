// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meetauth/internal/auth"
	"github.com/hitoshi/meetauth/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionStarter はセッションの読み込み・作成に必要なインターフェース。
// session.Managerが実装する。
type SessionStarter interface {
	Start(ctx context.Context, w http.ResponseWriter, r *http.Request) (*model.SessionRecord, error)
}

// NewSessionMiddleware は署名付きCookieからセッションを読み込み、
// 無い場合は匿名セッションを作成してリクエストコンテキストに注入する。
// セッションストアに到達できない場合は503を返す。
func NewSessionMiddleware(starter SessionStarter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, err := starter.Start(r.Context(), w, r)
			if err != nil {
				slog.Error("failed to start session",
					slog.String("error", err.Error()),
				)
				http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
				return
			}

			if principal, ok := auth.DeserializePrincipal(rec); ok {
				setLogProviderID(r.Context(), principal.ProviderID)
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), rec)))
		})
	}
}

// NewRequirePrincipalMiddleware はPrincipalの無いリクエストをredirectToへ302でリダイレクトする。
// ゲートウェイを呼び出すページの前段に配置し、未ログイン時は下流APIを呼ばない。
func NewRequirePrincipalMiddleware(redirectTo string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); !ok {
				http.Redirect(w, r, redirectTo, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過していない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.SessionRecord {
	rec, _ := ctx.Value(sessionContextKey).(*model.SessionRecord)
	return rec
}

// PrincipalFromContext はリクエストコンテキストのセッションからPrincipalを復元する。
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	return auth.DeserializePrincipal(SessionFromContext(ctx))
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, rec *model.SessionRecord) context.Context {
	return context.WithValue(ctx, sessionContextKey, rec)
}
