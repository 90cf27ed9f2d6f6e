// Package session はCookieで識別されるサーバー側セッションの発行・読み込み・破棄を提供する。
//
// Cookieには乱数のセッションIDとそのHMAC-SHA256署名のみを格納し、
// Principalを含むセッション本体はrepository.SessionRepositoryに保存する。
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/meetauth/internal/model"
	"github.com/hitoshi/meetauth/internal/repository"
)

// CookieName はセッションCookieの名前。
const CookieName = "session_id"

// touchInterval より短い間隔のアクセスでは有効期限の延長を保存しない。
const touchInterval = time.Minute

// Config はセッションマネージャーの設定。
type Config struct {
	Secret       string        // Cookie署名鍵
	TTL          time.Duration // 最終アクセスからの有効期間
	CookieDomain string
	CookieSecure bool
}

// Manager はセッションのライフサイクルを管理する。
type Manager struct {
	repo   repository.SessionRepository
	secret []byte
	config Config
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(repo repository.SessionRepository, config Config) *Manager {
	return &Manager{
		repo:   repo,
		secret: []byte(config.Secret),
		config: config,
		now:    time.Now,
	}
}

// Load はリクエストCookieに対応するセッションを返す。
// Cookieが無い、署名が不正、または期限切れの場合はnilを返す。
func (m *Manager) Load(ctx context.Context, r *http.Request) (*model.SessionRecord, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	id, ok := m.verify(cookie.Value)
	if !ok {
		return nil, nil
	}

	rec, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return rec, nil
}

// Start は現在のセッションを返す。有効なセッションが無い場合は匿名セッションを作成する。
// 有効期限はアクセスごとにスライドする。
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, r *http.Request) (*model.SessionRecord, error) {
	rec, err := m.Load(ctx, r)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if rec == nil {
		rec, err = m.newRecord(now, nil)
		if err != nil {
			return nil, err
		}
		if err := m.save(ctx, w, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	if now.Sub(rec.LastAccessedAt) >= touchInterval {
		// 読み込み後にログアウト等で削除されていた場合は復活させず、匿名セッションとして扱う
		expiresAt := now.Add(m.config.TTL)
		touched, err := m.repo.Touch(ctx, rec.ID, now, expiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to touch session: %w", err)
		}
		if !touched {
			rec, err = m.newRecord(now, nil)
			if err != nil {
				return nil, err
			}
			if err := m.save(ctx, w, rec); err != nil {
				return nil, err
			}
			return rec, nil
		}
		rec.LastAccessedAt = now
		rec.ExpiresAt = expiresAt
		m.setCookie(w, rec.ID)
	}
	return rec, nil
}

// Authenticate は新しいセッションIDを発行してPrincipalを書き込み、旧セッションを削除する。
// 既にPrincipalがあるセッションでも上書きする（アカウント切り替え）。
// エラー時はCookieを発行せず、新しいレコードも残さない。
func (m *Manager) Authenticate(ctx context.Context, w http.ResponseWriter, current *model.SessionRecord, principal model.Principal) (*model.SessionRecord, error) {
	rec, err := m.newRecord(m.now(), &principal)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if current != nil && current.ID != rec.ID {
		if err := m.repo.DeleteByID(ctx, current.ID); err != nil {
			if rollbackErr := m.repo.DeleteByID(ctx, rec.ID); rollbackErr != nil {
				return nil, fmt.Errorf("failed to delete previous session: %w (rollback: %v)", err, rollbackErr)
			}
			return nil, fmt.Errorf("failed to delete previous session: %w", err)
		}
	}

	m.setCookie(w, rec.ID)
	return rec, nil
}

// Destroy はセッションを削除し、Cookieをクリアする。
// 削除後のリクエストは新しい匿名セッションとして扱われる。
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, rec *model.SessionRecord) error {
	m.clearCookie(w)
	if rec == nil {
		return nil
	}
	if err := m.repo.DeleteByID(ctx, rec.ID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

func (m *Manager) newRecord(now time.Time, principal *model.Principal) (*model.SessionRecord, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	return &model.SessionRecord{
		ID:             id,
		Principal:      principal,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(m.config.TTL),
	}, nil
}

func (m *Manager) save(ctx context.Context, w http.ResponseWriter, rec *model.SessionRecord) error {
	if err := m.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	m.setCookie(w, rec.ID)
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    m.sign(id),
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   int(m.config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sign は "<id>.<base64url(HMAC-SHA256(id))>" 形式のCookie値を返す。
func (m *Manager) sign(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(m.mac(id))
}

// verify はCookie値の署名を検証し、セッションIDを返す。
func (m *Manager) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(got, m.mac(id)) {
		return "", false
	}
	return id, true
}

func (m *Manager) mac(id string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(id))
	return h.Sum(nil)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
