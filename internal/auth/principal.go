package auth

import (
	"errors"

	"github.com/hitoshi/meetauth/internal/model"
)

var (
	// ErrMissingProviderID はプロバイダー結果にユーザー識別子が無いことを示す。
	ErrMissingProviderID = errors.New("provider result has no subject")
	// ErrMissingAccessToken はプロバイダー結果にアクセストークンが無いことを示す。
	ErrMissingAccessToken = errors.New("provider result has no access token")
)

// SerializePrincipal はプロバイダー結果からセッションに保存するPrincipalを組み立てる。
// 値は加工せずそのままコピーする。必須項目が欠けている場合はPrincipalを作らない。
func SerializePrincipal(result *ProviderResult) (model.Principal, error) {
	if result == nil || result.Subject == "" {
		return model.Principal{}, ErrMissingProviderID
	}
	if result.AccessToken == "" {
		return model.Principal{}, ErrMissingAccessToken
	}

	return model.Principal{
		ProviderID:   result.Subject,
		DisplayName:  result.Name,
		Email:        result.Email,
		AvatarURL:    result.Picture,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, nil
}

// DeserializePrincipal はセッションに保存されたPrincipalを返す。
// 匿名セッションの場合はfalseを返す。
func DeserializePrincipal(rec *model.SessionRecord) (model.Principal, bool) {
	if rec == nil || !rec.Authenticated() {
		return model.Principal{}, false
	}
	return *rec.Principal, true
}
