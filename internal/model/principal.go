// Package model はドメインモデルを定義する。
package model

import "time"

// Principal はセッションに紐づく認証済みの主体を表す。
// auth.SerializePrincipal 経由でのみ生成し、生成後は変更しない。
// 値として受け渡すため、保持側が書き換えても保存済みの値には影響しない。
type Principal struct {
	// ProviderID はIdPが発行する安定した識別子（Googleの sub）。必須。
	ProviderID  string `json:"providerId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`

	// AccessToken は下流API呼び出しに使うBearerトークン。必須。
	AccessToken string `json:"accessToken"`
	// RefreshToken はオフラインアクセス許可時のみ発行される。
	RefreshToken string `json:"refreshToken,omitempty"`
}

// SessionRecord はセッションIDで参照されるサーバー側の状態を表す。
type SessionRecord struct {
	ID string
	// Principal は未ログインまたはログアウト後はnil。
	Principal      *Principal
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

// Authenticated はセッションにPrincipalが存在するかを返す。
func (r *SessionRecord) Authenticated() bool {
	return r != nil && r.Principal != nil
}

// Expired は指定時刻においてセッションが期限切れかを返す。
func (r *SessionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Clone はPrincipalを含めたディープコピーを返す。
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Principal != nil {
		p := *r.Principal
		c.Principal = &p
	}
	return &c
}
