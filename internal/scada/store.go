// Package scada reads plant sensor history out of the SCADA log
// database and answers natural-language sensor queries.
package scada

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Pure-Go sqlite driver, registered as "sqlite".
	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"
)

// Known plant machines. Seeded data and query parsing both use these.
var Machines = []string{"Filler_01", "Capper_01", "Labeler_01", "Packer_04"}

// Metric column names recorded in the log table.
const (
	MetricPressure    = "pressure_psi"
	MetricTemperature = "temperature_celsius"
	MetricVibration   = "vibration_hz"
	MetricLoad        = "load_kw"
	MetricRPM         = "rpm"
)

const schema = `
CREATE TABLE IF NOT EXISTS scada_logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	machine_name TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	metric_name  TEXT NOT NULL,
	value        REAL NOT NULL,
	error_code   TEXT
);
CREATE INDEX IF NOT EXISTS idx_scada_machine_metric
	ON scada_logs (machine_name, metric_name, timestamp);
`

// Store wraps the SCADA log database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var timeNow = time.Now

// Open opens (creating if necessary) the log database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scada database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize scada schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count reports the number of log rows, used to decide whether seeding
// is needed.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scada_logs`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count scada logs: %w", err)
	}
	return n, nil
}

// Reading is one sensor log row.
type Reading struct {
	Machine   string
	Timestamp time.Time
	Metric    string
	Value     float64
	ErrorCode string
}

// Query answers a natural-language sensor question with a formatted
// text summary of the matching log rows.
//
// The question is mapped onto SQL by keyword: the metric from words
// like "pressure" or "temperature", an optional machine name, an
// optional current-month window, and an error filter for questions
// about faults or alarms. Load questions are answered with a per-machine
// average; everything else returns the latest readings.
func (s *Store) Query(ctx context.Context, query string) (string, error) {
	q := parseQuery(query)
	s.logger.Debug("scada query",
		zap.String("metric", q.metric),
		zap.String("machine", q.machine),
		zap.Bool("errors_only", q.errorsOnly),
		zap.Bool("month", q.monthOnly))

	if q.errorsOnly {
		return s.queryErrors(ctx, q)
	}
	if q.metric == MetricLoad && q.average {
		return s.queryAverageLoad(ctx, q)
	}
	return s.queryLatest(ctx, q)
}

type parsedQuery struct {
	metric     string
	machine    string
	errorsOnly bool
	monthOnly  bool
	average    bool
}

func parseQuery(query string) parsedQuery {
	lower := strings.ToLower(query)
	q := parsedQuery{
		metric:     metricFor(lower),
		machine:    machineFor(query),
		monthOnly:  strings.Contains(lower, "this month") || strings.Contains(lower, "current month"),
		average:    strings.Contains(lower, "average") || strings.Contains(lower, "avg") || strings.Contains(lower, "consumption"),
		errorsOnly: containsAny(lower, "error", "fault", "alarm", "err_"),
	}
	return q
}

func metricFor(lower string) string {
	switch {
	case strings.Contains(lower, "pressure"):
		return MetricPressure
	case containsAny(lower, "temperature", "temp", "overheat", "heat"):
		return MetricTemperature
	case strings.Contains(lower, "vibrat"):
		return MetricVibration
	case containsAny(lower, "load", "power", "energy", "consumption", "kw"):
		return MetricLoad
	case containsAny(lower, "rpm", "speed", "spinning"):
		return MetricRPM
	default:
		return ""
	}
}

func machineFor(query string) string {
	for _, m := range Machines {
		if strings.Contains(strings.ToLower(query), strings.ToLower(m)) {
			return m
		}
		// Match "filler", "capper" etc. without the unit suffix.
		base := strings.ToLower(strings.SplitN(m, "_", 2)[0])
		if strings.Contains(strings.ToLower(query), base) {
			return m
		}
	}
	return ""
}

func (s *Store) queryLatest(ctx context.Context, q parsedQuery) (string, error) {
	var (
		conds []string
		args  []any
	)
	if q.metric != "" {
		conds = append(conds, "metric_name = ?")
		args = append(args, q.metric)
	}
	readings, err := s.selectReadings(ctx, q, conds, args, 10)
	if err != nil {
		return "", err
	}
	if len(readings) == 0 {
		return "No sensor readings matched the query.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Latest sensor readings (%d rows):\n", len(readings))
	for _, r := range readings {
		fmt.Fprintf(&b, "  %s  %s  %s = %.2f", r.Timestamp.Format(time.RFC3339), r.Machine, r.Metric, r.Value)
		if r.ErrorCode != "" {
			fmt.Fprintf(&b, "  [%s]", r.ErrorCode)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

func (s *Store) queryErrors(ctx context.Context, q parsedQuery) (string, error) {
	conds := []string{"error_code IS NOT NULL AND error_code != ''"}
	var args []any
	if q.metric != "" {
		conds = append(conds, "metric_name = ?")
		args = append(args, q.metric)
	}
	readings, err := s.selectReadings(ctx, q, conds, args, 10)
	if err != nil {
		return "", err
	}
	if len(readings) == 0 {
		return "No error codes recorded for the query window.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent faults (%d rows):\n", len(readings))
	for _, r := range readings {
		fmt.Fprintf(&b, "  %s  %s  %s  (%s = %.2f)\n",
			r.Timestamp.Format(time.RFC3339), r.Machine, r.ErrorCode, r.Metric, r.Value)
	}
	return strings.TrimSpace(b.String()), nil
}

func (s *Store) queryAverageLoad(ctx context.Context, q parsedQuery) (string, error) {
	var (
		conds = []string{"metric_name = ?"}
		args  = []any{MetricLoad}
	)
	if q.machine != "" {
		conds = append(conds, "machine_name = ?")
		args = append(args, q.machine)
	}
	if q.monthOnly {
		conds = append(conds, "timestamp >= ?")
		args = append(args, monthStart(timeNow()).Format(time.RFC3339))
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT machine_name, AVG(value), COUNT(*)
		FROM scada_logs
		WHERE `+strings.Join(conds, " AND ")+`
		GROUP BY machine_name
		ORDER BY machine_name`, args...)
	if err != nil {
		return "", fmt.Errorf("failed to query average load: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString("Average energy load (kW):\n")
	n := 0
	for rows.Next() {
		var machine string
		var avg float64
		var count int
		if err := rows.Scan(&machine, &avg, &count); err != nil {
			return "", fmt.Errorf("failed to scan average load row: %w", err)
		}
		fmt.Fprintf(&b, "  %s: %.2f kW over %d readings\n", machine, avg, count)
		n++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate average load rows: %w", err)
	}
	if n == 0 {
		return "No load readings matched the query.", nil
	}
	return strings.TrimSpace(b.String()), nil
}

func (s *Store) selectReadings(ctx context.Context, q parsedQuery, conds []string, args []any, limit int) ([]Reading, error) {
	if q.machine != "" {
		conds = append(conds, "machine_name = ?")
		args = append(args, q.machine)
	}
	if q.monthOnly {
		conds = append(conds, "timestamp >= ?")
		args = append(args, monthStart(timeNow()).Format(time.RFC3339))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT machine_name, timestamp, metric_name, value, COALESCE(error_code, '')
		FROM scada_logs `+where+`
		ORDER BY timestamp DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scada logs: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		var ts string
		if err := rows.Scan(&r.Machine, &ts, &r.Metric, &r.Value, &r.ErrorCode); err != nil {
			return nil, fmt.Errorf("failed to scan scada row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp %q: %w", ts, err)
		}
		r.Timestamp = t
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scada rows: %w", err)
	}
	return readings, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
