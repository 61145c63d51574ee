package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"remindwell/internal/types"
)

// PrayerClientConfig holds the configuration for creating a PrayerHTTPClient.
type PrayerClientConfig struct {
	BaseURL   string
	UserAgent string
	Logger    *slog.Logger
}

// prayerTimingsResponse is the envelope returned by the timings endpoint.
// Instants are RFC 3339 strings keyed by lowercase prayer name.
type prayerTimingsResponse struct {
	Date    string            `json:"date"`
	Timings map[string]string `json:"timings"`
}

// PrayerHTTPClient implements types.PrayerTimeSource against the astronomical
// timings API. All requests go through BaseClient for circuit breaking and
// retries.
type PrayerHTTPClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

var _ types.PrayerTimeSource = (*PrayerHTTPClient)(nil)

// NewPrayerClient creates a PrayerHTTPClient. The httpClient timeout bounds
// the whole exchange including retries inside BaseClient.
func NewPrayerClient(httpClient *http.Client, cfg PrayerClientConfig, opts ...BaseClientOption) *PrayerHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PrayerHTTPClient{
		base:    NewBaseClient(httpClient, "prayer", DefaultRetryPolicy(), cfg.UserAgent, opts...),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// GetTimesFor fetches the five daily prayer instants for the given location
// and date. Callers treat any error as "no prayer constraints this cycle".
func (c *PrayerHTTPClient) GetTimesFor(ctx context.Context, loc types.Location, date time.Time) (types.PrayerTimes, error) {
	q := url.Values{}
	q.Set("date", date.UTC().Format("2006-01-02"))
	q.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))

	endpoint := fmt.Sprintf("%s/v1/timings?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.PrayerTimes{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build prayer timings request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return types.PrayerTimes{}, types.NewAppError(types.ErrCodeUpstreamPrayer, "prayer timings request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WarnContext(ctx, "prayer source returned non-200",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return types.PrayerTimes{}, types.NewAppError(
			types.ErrCodeUpstreamPrayer,
			fmt.Sprintf("prayer source returned %d", resp.StatusCode),
			nil,
		)
	}

	var payload prayerTimingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return types.PrayerTimes{}, types.NewAppError(types.ErrCodeUpstreamPrayer, "failed to decode prayer timings response", err)
	}

	times := make(map[types.PrayerName]time.Time, len(payload.Timings))
	for name, raw := range payload.Timings {
		instant, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return types.PrayerTimes{}, types.NewAppError(
				types.ErrCodeUpstreamPrayer,
				fmt.Sprintf("prayer source returned malformed instant for %q", name),
				err,
			)
		}
		times[types.PrayerName(strings.ToLower(name))] = instant.UTC()
	}

	return types.PrayerTimes{
		Date:  date.UTC().Truncate(24 * time.Hour),
		Times: times,
	}, nil
}
