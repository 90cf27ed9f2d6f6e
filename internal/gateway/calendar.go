package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// EventQuery はカレンダーイベント一覧の取得条件。
type EventQuery struct {
	CalendarID string    // 空の場合は "primary"
	MaxResults int       // 0の場合はAPIのデフォルト
	From       time.Time // ゼロ値の場合は現在時刻
}

// Event はカレンダーイベント。
type Event struct {
	Start       time.Time
	AllDay      bool
	Summary     string
	Link        string // Googleカレンダー上のイベントURL（無い場合は空）
	Description string // ユーザー入力のHTMLを含みうる。表示前にサニタイズすること
}

type eventsResponse struct {
	Items []struct {
		Summary     string `json:"summary"`
		HTMLLink    string `json:"htmlLink"`
		Description string `json:"description"`
		Start       struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
	} `json:"items"`
}

// ListUpcomingEvents は指定時刻以降のイベントを開始時刻順に取得する。
// 繰り返しイベントは個別のインスタンスに展開される。
// イベントが無い場合は空スライスを返す。
func (c *Client) ListUpcomingEvents(ctx context.Context, accessToken string, query EventQuery) ([]Event, error) {
	calendarID := query.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	from := query.From
	if from.IsZero() {
		from = c.now()
	}

	params := url.Values{
		"timeMin":      {from.UTC().Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	}
	if query.MaxResults > 0 {
		params.Set("maxResults", strconv.Itoa(query.MaxResults))
	}
	reqURL := c.calendarBaseURL + "/calendars/" + url.PathEscape(calendarID) + "/events?" + params.Encode()

	var resp eventsResponse
	if err := c.do(ctx, accessToken, http.MethodGet, reqURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev := Event{
			Summary:     item.Summary,
			Link:        item.HTMLLink,
			Description: item.Description,
		}
		switch {
		case item.Start.DateTime != "":
			start, err := time.Parse(time.RFC3339, item.Start.DateTime)
			if err != nil {
				return nil, fmt.Errorf("invalid event start %q: %w", item.Start.DateTime, err)
			}
			ev.Start = start
		case item.Start.Date != "":
			start, err := time.Parse(time.DateOnly, item.Start.Date)
			if err != nil {
				return nil, fmt.Errorf("invalid event date %q: %w", item.Start.Date, err)
			}
			ev.Start = start
			ev.AllDay = true
		}
		events = append(events, ev)
	}

	return events, nil
}
