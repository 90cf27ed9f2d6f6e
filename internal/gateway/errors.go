package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized はアクセストークンが拒否された（期限切れ・失効）ことを示す。
	// トークンの自動更新は行わないため、呼び出し側は再ログインを促す。
	ErrUnauthorized = errors.New("gateway: access token rejected")
	// ErrForbidden はスコープ不足などで操作が許可されなかったことを示す。
	ErrForbidden = errors.New("gateway: permission denied")
)

// Error はGoogle APIが返したエラーレスポンスを表す。
type Error struct {
	StatusCode int
	Status     string // "UNAUTHENTICATED", "PERMISSION_DENIED" 等
	Message    string
}

func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("google api error %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("google api error %d: %s", e.StatusCode, e.Message)
}

// Is はステータスコードに応じてErrUnauthorized/ErrForbiddenとの一致を判定する。
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

// googleErrorBody はGoogle APIの標準エラーレスポンス。
//
//	{"error": {"code": 401, "message": "...", "status": "UNAUTHENTICATED"}}
type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseError はエラーレスポンスのボディからErrorを組み立てる。
// ボディが標準形式でない場合はHTTPステータステキストをメッセージとする。
func parseError(statusCode int, body []byte) *Error {
	e := &Error{StatusCode: statusCode}

	var parsed googleErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Status = parsed.Error.Status
		e.Message = parsed.Error.Message
	}
	if e.Message == "" {
		e.Message = http.StatusText(statusCode)
	}
	return e
}
