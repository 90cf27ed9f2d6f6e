package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetauth/internal/auth"
	"github.com/hitoshi/meetauth/internal/gateway"
	"github.com/hitoshi/meetauth/internal/metrics"
	"github.com/hitoshi/meetauth/internal/middleware"
	"github.com/hitoshi/meetauth/internal/model"
	"github.com/hitoshi/meetauth/internal/security"
)

// GatewayInterface はページハンドラーが必要とする下流APIの操作。
type GatewayInterface interface {
	ListUpcomingEvents(ctx context.Context, accessToken string, query gateway.EventQuery) ([]gateway.Event, error)
	CreateMeetingSpace(ctx context.Context, accessToken string, config gateway.SpaceConfig) (*gateway.MeetingSpace, error)
}

// URLValidator はページに埋め込むURLを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// PageHandlerConfig はページハンドラーの設定。
type PageHandlerConfig struct {
	CalendarMaxResults int
	MeetAccessType     string
	Location           *time.Location // 予定の表示タイムゾーン。nilの場合はtime.Local
}

// PageHandler はHTMLページのハンドラー。
type PageHandler struct {
	gateway   GatewayInterface
	sanitizer security.ContentSanitizerService
	urls      URLValidator
	metrics   metrics.MetricsCollector
	config    PageHandlerConfig
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(gw GatewayInterface, sanitizer security.ContentSanitizerService, urls URLValidator, collector metrics.MetricsCollector, config PageHandlerConfig) *PageHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &PageHandler{
		gateway:   gw,
		sanitizer: sanitizer,
		urls:      urls,
		metrics:   collector,
		config:    config,
	}
}

type profileView struct {
	DisplayName string
	Email       string
	AvatarURL   string
}

type loginErrorView struct {
	Reason  string
	Message string
}

type indexPage struct {
	Title      string
	Profile    *profileView
	LoginError *loginErrorView
}

type eventView struct {
	StartISO    string
	StartLabel  string
	Summary     string
	Link        string
	Description template.HTML
}

type calendarPage struct {
	Title  string
	Events []eventView
}

type meetPage struct {
	Title       string
	JoinURI     string
	MeetingCode string
	Error       *model.APIError
}

type errorPage struct {
	Title string
	Error *model.APIError
}

// loginErrorMessages は/auth/failureから渡される理由コードの表示文言。
var loginErrorMessages = map[string]string{
	auth.ReasonProviderError:  "Googleでの認証がキャンセルされたか、拒否されました。",
	auth.ReasonStateMismatch:  "ログインの有効期限が切れました。もう一度お試しください。",
	auth.ReasonMissingCode:    "Googleから認可コードが返されませんでした。",
	auth.ReasonExchangeFailed: "Googleとの通信に失敗しました。",
	auth.ReasonInvalidProfile: "Googleアカウントの情報を取得できませんでした。",
	auth.ReasonSessionError:   "セッションの保存に失敗しました。",
	auth.ReasonUnknown:        "ログインに失敗しました。",
}

// Index はトップページを表示する。
// GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	page := indexPage{Title: "ホーム"}

	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		profile := &profileView{
			DisplayName: principal.DisplayName,
			Email:       principal.Email,
		}
		if principal.AvatarURL != "" && h.urls.ValidateURL(principal.AvatarURL) == nil {
			profile.AvatarURL = principal.AvatarURL
		}
		if profile.DisplayName == "" {
			profile.DisplayName = principal.ProviderID
		}
		page.Profile = profile
	}

	if reason := r.URL.Query().Get("login_error"); reason != "" {
		reason = auth.NormalizeReason(reason)
		page.LoginError = &loginErrorView{
			Reason:  reason,
			Message: loginErrorMessages[reason],
		}
	}

	renderPage(w, http.StatusOK, "index.html", page)
}

// Calendar は今後の予定を一覧表示する。
// GET /calendar
func (h *PageHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())

	start := time.Now()
	events, err := h.gateway.ListUpcomingEvents(r.Context(), principal.AccessToken, gateway.EventQuery{
		CalendarID: "primary",
		MaxResults: h.config.CalendarMaxResults,
	})
	h.metrics.RecordGatewayCall("list_events", gatewayOutcome(err), time.Since(start))
	if err != nil {
		slog.Warn("failed to list calendar events",
			slog.String("provider_id", principal.ProviderID),
			slog.String("error", err.Error()),
		)
		renderPage(w, http.StatusInternalServerError, "error.html", errorPage{
			Title: "エラー",
			Error: toGatewayAPIError(err),
		})
		return
	}

	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, h.toEventView(e))
	}

	renderPage(w, http.StatusOK, "calendar.html", calendarPage{
		Title:  "今後の予定",
		Events: views,
	})
}

// CreateMeet はGoogle Meetのスペースを作成し、参加URLを表示する。
// 作成に失敗した場合もエラーメッセージを含むページを200で返す。
// GET /create-meet
func (h *PageHandler) CreateMeet(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	page := meetPage{Title: "Google Meet"}

	start := time.Now()
	space, err := h.gateway.CreateMeetingSpace(r.Context(), principal.AccessToken, gateway.SpaceConfig{
		AccessType: h.config.MeetAccessType,
	})
	h.metrics.RecordGatewayCall("create_space", gatewayOutcome(err), time.Since(start))

	switch {
	case err != nil:
		slog.Warn("failed to create meeting space",
			slog.String("provider_id", principal.ProviderID),
			slog.String("error", err.Error()),
		)
		page.Error = toGatewayAPIError(err)
	case h.urls.ValidateURL(space.JoinURI) != nil:
		slog.Warn("meeting space returned unexpected join uri",
			slog.String("provider_id", principal.ProviderID),
			slog.String("space_id", space.SpaceID),
		)
		page.Error = model.NewGatewayFailedError("不正な参加URLが返されました")
	default:
		slog.Info("meeting space created",
			slog.String("provider_id", principal.ProviderID),
			slog.String("space_id", space.SpaceID),
		)
		page.JoinURI = space.JoinURI
		page.MeetingCode = space.MeetingCode
	}

	renderPage(w, http.StatusOK, "create_meet.html", page)
}

func (h *PageHandler) toEventView(e gateway.Event) eventView {
	v := eventView{
		Summary: e.Summary,
		// サニタイズ済みのHTMLのみtemplate.HTMLとして埋め込む
		Description: template.HTML(h.sanitizer.Sanitize(e.Description)),
	}
	if v.Summary == "" {
		v.Summary = "(タイトルなし)"
	}
	if e.Link != "" && h.urls.ValidateURL(e.Link) == nil {
		v.Link = e.Link
	}

	if e.AllDay {
		v.StartISO = e.Start.Format(time.DateOnly)
		v.StartLabel = e.Start.Format("2006/01/02") + " 終日"
	} else {
		local := e.Start.In(h.config.Location)
		v.StartISO = local.Format(time.RFC3339)
		v.StartLabel = local.Format("2006/01/02 15:04")
	}
	return v
}

// toGatewayAPIError は下流APIのエラーをユーザー向けのエラーに変換する。
// トークン失効時もセッションは無効化しない。
func toGatewayAPIError(err error) *model.APIError {
	if errors.Is(err, gateway.ErrUnauthorized) {
		return model.NewGatewayUnauthorizedError()
	}

	var apiErr *gateway.Error
	if errors.As(err, &apiErr) {
		if errors.Is(apiErr, gateway.ErrForbidden) {
			return model.NewGatewayForbiddenError(apiErr.Message)
		}
		return model.NewGatewayFailedError(apiErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewGatewayFailedError("タイムアウトしました")
	}
	return model.NewGatewayFailedError("通信エラーが発生しました")
}

// gatewayOutcome はメトリクス用の結果ラベルを返す。
func gatewayOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gateway.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, gateway.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
