package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/meetauth/internal/model"
)

// encodePrincipal はPrincipalをSQLカラム用のJSON文字列に変換する。
// 未ログインのセッションはNULLとして保存する。
func encodePrincipal(p *model.Principal) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode principal: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodePrincipal はSQLカラムのJSON文字列からPrincipalを復元する。
func decodePrincipal(ns sql.NullString) (*model.Principal, error) {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil, nil
	}
	var p model.Principal
	if err := json.Unmarshal([]byte(ns.String), &p); err != nil {
		return nil, fmt.Errorf("failed to decode principal: %w", err)
	}
	return &p, nil
}
