package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/meetauth/internal/gateway"
	"github.com/hitoshi/meetauth/internal/model"
	"github.com/hitoshi/meetauth/internal/security"
)

// --- モック定義 ---

type mockGateway struct {
	listUpcomingEventsFn func(ctx context.Context, accessToken string, query gateway.EventQuery) ([]gateway.Event, error)
	createMeetingSpaceFn func(ctx context.Context, accessToken string, config gateway.SpaceConfig) (*gateway.MeetingSpace, error)

	listCalls   atomic.Int32
	createCalls atomic.Int32
}

func (m *mockGateway) ListUpcomingEvents(ctx context.Context, accessToken string, query gateway.EventQuery) ([]gateway.Event, error) {
	m.listCalls.Add(1)
	if m.listUpcomingEventsFn != nil {
		return m.listUpcomingEventsFn(ctx, accessToken, query)
	}
	return []gateway.Event{}, nil
}

func (m *mockGateway) CreateMeetingSpace(ctx context.Context, accessToken string, config gateway.SpaceConfig) (*gateway.MeetingSpace, error) {
	m.createCalls.Add(1)
	if m.createMeetingSpaceFn != nil {
		return m.createMeetingSpaceFn(ctx, accessToken, config)
	}
	return &gateway.MeetingSpace{SpaceID: "abc", JoinURI: "https://meet.google.com/abc-defg-hij", MeetingCode: "abc-defg-hij"}, nil
}

// mockURLValidator はhttpsのみ許可する簡易バリデーター。
type mockURLValidator struct{}

func (mockURLValidator) ValidateURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "https://") {
		return errors.New("not https")
	}
	return nil
}

func newTestPageHandler(gw GatewayInterface) *PageHandler {
	return NewPageHandler(gw, security.NewContentSanitizer(), mockURLValidator{}, nil, PageHandlerConfig{
		CalendarMaxResults: 10,
		Location:           time.UTC,
	})
}

func authenticatedRequest(target string) *http.Request {
	p := testPrincipal()
	return withSession(httptest.NewRequest(http.MethodGet, target, nil), &model.SessionRecord{ID: "s1", Principal: &p})
}

// --- Index ---

func TestPageHandler_Index_Anonymous_ShowsLoginLink(t *testing.T) {
	h := newTestPageHandler(&mockGateway{})

	w := httptest.NewRecorder()
	h.Index(w, withSession(httptest.NewRequest(http.MethodGet, "/", nil), &model.SessionRecord{ID: "anonymous"}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `href="/auth/start"`) {
		t.Error("expected login link")
	}
}

func TestPageHandler_Index_Authenticated_ShowsProfile(t *testing.T) {
	h := newTestPageHandler(&mockGateway{})

	w := httptest.NewRecorder()
	h.Index(w, authenticatedRequest("/"))

	body := w.Body.String()
	if !strings.Contains(body, "Ana") || !strings.Contains(body, "ana@example.com") {
		t.Errorf("expected profile in body: %s", body)
	}
	if strings.Contains(body, "tok1") {
		t.Error("page must not contain access token")
	}
	if !strings.Contains(body, `action="/auth/logout"`) {
		t.Error("expected logout form")
	}
}

func TestPageHandler_Index_DropsUnsafeAvatarURL(t *testing.T) {
	h := newTestPageHandler(&mockGateway{})

	p := testPrincipal()
	p.AvatarURL = "javascript:alert(1)"
	req := withSession(httptest.NewRequest(http.MethodGet, "/", nil), &model.SessionRecord{ID: "s1", Principal: &p})
	w := httptest.NewRecorder()
	h.Index(w, req)

	if strings.Contains(w.Body.String(), "alert(1)") {
		t.Error("unsafe avatar url must not be rendered")
	}
}

func TestPageHandler_Index_ShowsLoginError(t *testing.T) {
	h := newTestPageHandler(&mockGateway{})

	w := httptest.NewRecorder()
	h.Index(w, withSession(httptest.NewRequest(http.MethodGet, "/?login_error=state_mismatch", nil), &model.SessionRecord{ID: "anonymous"}))

	body := w.Body.String()
	if !strings.Contains(body, `data-reason="state_mismatch"`) {
		t.Errorf("expected login error in body: %s", body)
	}
}

// --- Calendar ---

func TestPageHandler_Calendar_RendersEventsInOrder(t *testing.T) {
	var gotToken string
	var gotQuery gateway.EventQuery
	gw := &mockGateway{
		listUpcomingEventsFn: func(ctx context.Context, accessToken string, query gateway.EventQuery) ([]gateway.Event, error) {
			gotToken, gotQuery = accessToken, query
			return []gateway.Event{
				{Start: time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC), Summary: "Standup", Link: "https://calendar.google.com/event?eid=1"},
				{Start: time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC), AllDay: true, Summary: "Offsite", Description: `<b>bring</b> laptop<script>alert(1)</script>`},
			}, nil
		},
	}
	h := newTestPageHandler(gw)

	w := httptest.NewRecorder()
	h.Calendar(w, authenticatedRequest("/calendar"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotToken != "tok1" {
		t.Errorf("access token = %q, want %q", gotToken, "tok1")
	}
	if gotQuery.CalendarID != "primary" || gotQuery.MaxResults != 10 {
		t.Errorf("query = %+v, want primary/10", gotQuery)
	}

	body := w.Body.String()
	standup := strings.Index(body, "Standup")
	offsite := strings.Index(body, "Offsite")
	if standup < 0 || offsite < 0 || standup > offsite {
		t.Errorf("events not rendered in order: %s", body)
	}
	if !strings.Contains(body, "2026/10/20 09:00") {
		t.Error("expected formatted start time")
	}
	if !strings.Contains(body, "2026/10/21 終日") {
		t.Error("expected all-day label")
	}
	if !strings.Contains(body, "<b>bring</b>") {
		t.Error("expected sanitized description to keep allowed tags")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("description script must be removed")
	}
}

func TestPageHandler_Calendar_NoEvents(t *testing.T) {
	h := newTestPageHandler(&mockGateway{})

	w := httptest.NewRecorder()
	h.Calendar(w, authenticatedRequest("/calendar"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "予定はありません") {
		t.Error("expected empty state message")
	}
}

func TestPageHandler_Calendar_GatewayErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{"expired token", &gateway.Error{StatusCode: http.StatusUnauthorized, Message: "Invalid Credentials"}, "無効か期限切れ"},
		{"forbidden", &gateway.Error{StatusCode: http.StatusForbidden, Message: "Insufficient Permission"}, "Insufficient Permission"},
		{"server error", &gateway.Error{StatusCode: http.StatusInternalServerError, Message: "Backend Error"}, "Backend Error"},
		{"transport error", errors.New("dial tcp: connection refused"), "通信エラー"},
		{"timeout", context.DeadlineExceeded, "タイムアウト"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{
				listUpcomingEventsFn: func(ctx context.Context, accessToken string, query gateway.EventQuery) ([]gateway.Event, error) {
					return nil, tt.err
				},
			}
			h := newTestPageHandler(gw)

			w := httptest.NewRecorder()
			h.Calendar(w, authenticatedRequest("/calendar"))

			if w.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
			}
			if !strings.Contains(w.Body.String(), tt.wantMessage) {
				t.Errorf("body should contain %q", tt.wantMessage)
			}
			if strings.Contains(w.Body.String(), "connection refused") {
				t.Error("transport details must not be rendered")
			}
		})
	}
}

// --- CreateMeet ---

func TestPageHandler_CreateMeet_RendersJoinURI(t *testing.T) {
	var gotConfig gateway.SpaceConfig
	gw := &mockGateway{
		createMeetingSpaceFn: func(ctx context.Context, accessToken string, config gateway.SpaceConfig) (*gateway.MeetingSpace, error) {
			gotConfig = config
			return &gateway.MeetingSpace{SpaceID: "abc", JoinURI: "https://meet.google.com/abc-defg-hij", MeetingCode: "abc-defg-hij"}, nil
		},
	}
	h := NewPageHandler(gw, security.NewContentSanitizer(), mockURLValidator{}, nil, PageHandlerConfig{MeetAccessType: gateway.AccessTypeTrusted})

	w := httptest.NewRecorder()
	h.CreateMeet(w, authenticatedRequest("/create-meet"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotConfig.AccessType != gateway.AccessTypeTrusted {
		t.Errorf("AccessType = %q, want %q", gotConfig.AccessType, gateway.AccessTypeTrusted)
	}
	body := w.Body.String()
	if !strings.Contains(body, `href="https://meet.google.com/abc-defg-hij"`) {
		t.Errorf("expected join link in body: %s", body)
	}
	if !strings.Contains(body, "abc-defg-hij") {
		t.Error("expected meeting code")
	}
}

func TestPageHandler_CreateMeet_ProviderError_RendersMessage(t *testing.T) {
	gw := &mockGateway{
		createMeetingSpaceFn: func(ctx context.Context, accessToken string, config gateway.SpaceConfig) (*gateway.MeetingSpace, error) {
			return nil, &gateway.Error{StatusCode: http.StatusForbidden, Status: "PERMISSION_DENIED", Message: "Request had insufficient authentication scopes."}
		},
	}
	h := newTestPageHandler(gw)

	w := httptest.NewRecorder()
	h.CreateMeet(w, authenticatedRequest("/create-meet"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "insufficient authentication scopes") {
		t.Error("expected provider message in body")
	}
}

func TestPageHandler_CreateMeet_UnsafeJoinURI_RendersError(t *testing.T) {
	gw := &mockGateway{
		createMeetingSpaceFn: func(ctx context.Context, accessToken string, config gateway.SpaceConfig) (*gateway.MeetingSpace, error) {
			return &gateway.MeetingSpace{SpaceID: "abc", JoinURI: "javascript:alert(1)"}, nil
		},
	}
	h := newTestPageHandler(gw)

	w := httptest.NewRecorder()
	h.CreateMeet(w, authenticatedRequest("/create-meet"))

	if strings.Contains(w.Body.String(), "alert(1)") {
		t.Error("unsafe join uri must not be rendered")
	}
	if !strings.Contains(w.Body.String(), "不正な参加URL") {
		t.Error("expected error message")
	}
}

func TestToGatewayAPIError_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", &gateway.Error{StatusCode: 401}, model.ErrCodeGatewayAuth},
		{"wrapped unauthorized", errors.Join(errors.New("list"), &gateway.Error{StatusCode: 401}), model.ErrCodeGatewayAuth},
		{"forbidden", &gateway.Error{StatusCode: 403}, model.ErrCodeGatewayForbidden},
		{"other", &gateway.Error{StatusCode: 429}, model.ErrCodeGatewayFailed},
		{"transport", errors.New("eof"), model.ErrCodeGatewayFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toGatewayAPIError(tt.err).Code; got != tt.want {
				t.Errorf("code = %q, want %q", got, tt.want)
			}
		})
	}
}
