package external

import (
	"context"
	"log/slog"
	"time"

	"remindwell/internal/types"
)

// Stub implementations let the application boot in local mode without real
// upstream credentials. They log all actions and return predictable, safe
// defaults.

// StubPrayerSource implements types.PrayerTimeSource with synthetic but
// plausible instants derived from the date alone.
type StubPrayerSource struct {
	logger *slog.Logger
}

// NewStubPrayerSource creates a StubPrayerSource.
func NewStubPrayerSource(logger *slog.Logger) *StubPrayerSource {
	return &StubPrayerSource{logger: logger}
}

func (s *StubPrayerSource) GetTimesFor(ctx context.Context, loc types.Location, date time.Time) (types.PrayerTimes, error) {
	s.logger.InfoContext(ctx, "stub: GetTimesFor called",
		"lat", loc.Lat,
		"lon", loc.Lon,
		"date", date.Format("2006-01-02"),
	)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return types.PrayerTimes{
		Date: day,
		Times: map[types.PrayerName]time.Time{
			types.PrayerFajr:    day.Add(5*time.Hour + 15*time.Minute),
			types.PrayerDhuhr:   day.Add(12*time.Hour + 10*time.Minute),
			types.PrayerAsr:     day.Add(15*time.Hour + 30*time.Minute),
			types.PrayerMaghrib: day.Add(18*time.Hour + 5*time.Minute),
			types.PrayerIsha:    day.Add(19*time.Hour + 35*time.Minute),
		},
	}, nil
}

// StubCalendar implements types.CulturalCalendar by reporting no special
// period is ever active.
type StubCalendar struct {
	logger *slog.Logger
}

// NewStubCalendar creates a StubCalendar.
func NewStubCalendar(logger *slog.Logger) *StubCalendar {
	return &StubCalendar{logger: logger}
}

func (s *StubCalendar) IsSpecialPeriodActive(ctx context.Context, kind types.SpecialPeriodKind, date time.Time) (bool, error) {
	s.logger.InfoContext(ctx, "stub: IsSpecialPeriodActive called",
		"kind", string(kind),
		"date", date.Format("2006-01-02"),
	)
	return false, nil
}

// LoggingTransport implements types.DeliveryTransport by logging each attempt
// and reporting success. Used in local mode instead of the queue-backed
// transport.
type LoggingTransport struct {
	logger *slog.Logger
}

// NewLoggingTransport creates a LoggingTransport.
func NewLoggingTransport(logger *slog.Logger) *LoggingTransport {
	return &LoggingTransport{logger: logger}
}

func (t *LoggingTransport) Deliver(ctx context.Context, item types.WorkItem, method types.DeliveryMethod) error {
	t.logger.InfoContext(ctx, "stub: delivery attempt",
		"item_id", item.ID,
		"user_id", item.UserID,
		"method", string(method),
	)
	return nil
}

var (
	_ types.PrayerTimeSource  = (*StubPrayerSource)(nil)
	_ types.CulturalCalendar  = (*StubCalendar)(nil)
	_ types.DeliveryTransport = (*LoggingTransport)(nil)
)
