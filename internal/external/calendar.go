package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"remindwell/internal/types"
)

// calendarCacheTTL bounds how long a period lookup is reused. Period
// boundaries move at day granularity, so an hour is comfortably fresh.
const calendarCacheTTL = time.Hour

// CalendarClientConfig holds the configuration for creating a
// CalendarHTTPClient.
type CalendarClientConfig struct {
	BaseURL   string
	UserAgent string
	Logger    *slog.Logger
}

type calendarPeriodResponse struct {
	Kind   string `json:"kind"`
	Date   string `json:"date"`
	Active bool   `json:"active"`
}

type calendarCacheEntry struct {
	active    bool
	fetchedAt time.Time
}

// CalendarHTTPClient implements types.CulturalCalendar against the cultural
// calendar API, with a small in-process cache because the answer for a given
// (kind, date) pair never changes within a day.
type CalendarHTTPClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
	clock   types.Clock

	mu    sync.Mutex
	cache map[string]calendarCacheEntry
}

var _ types.CulturalCalendar = (*CalendarHTTPClient)(nil)

// NewCalendarClient creates a CalendarHTTPClient.
func NewCalendarClient(httpClient *http.Client, cfg CalendarClientConfig, clock types.Clock, opts ...BaseClientOption) *CalendarHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &CalendarHTTPClient{
		base:    NewBaseClient(httpClient, "calendar", DefaultRetryPolicy(), cfg.UserAgent, opts...),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
		clock:   clock,
		cache:   make(map[string]calendarCacheEntry),
	}
}

// IsSpecialPeriodActive reports whether the given cultural period covers the
// given date.
func (c *CalendarHTTPClient) IsSpecialPeriodActive(ctx context.Context, kind types.SpecialPeriodKind, date time.Time) (bool, error) {
	day := date.UTC().Format("2006-01-02")
	key := string(kind) + "|" + day

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.clock.Now().Sub(entry.fetchedAt) < calendarCacheTTL {
		return entry.active, nil
	}

	q := url.Values{}
	q.Set("date", day)
	endpoint := fmt.Sprintf("%s/v1/periods/%s?%s", c.baseURL, url.PathEscape(string(kind)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build calendar request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamCalendar, "calendar request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, types.NewAppError(
			types.ErrCodeUpstreamCalendar,
			fmt.Sprintf("calendar returned %d", resp.StatusCode),
			nil,
		)
	}

	var payload calendarPeriodResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamCalendar, "failed to decode calendar response", err)
	}

	c.mu.Lock()
	c.cache[key] = calendarCacheEntry{active: payload.Active, fetchedAt: c.clock.Now()}
	c.mu.Unlock()

	return payload.Active, nil
}
