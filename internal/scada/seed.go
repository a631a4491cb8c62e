package scada

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Fault codes recorded when a reading leaves its normal band.
const (
	ErrPressureLow   = "ERR_PRESSURE_LOW_503"
	ErrPressureHigh  = "ERR_PRESSURE_HIGH_504"
	ErrOverheat      = "ERR_OVERHEAT_505"
	ErrVibrationHigh = "ERR_VIBRATION_HIGH_506"
	ErrOverload      = "ERR_OVERLOAD_507"
	ErrOverspeed     = "ERR_OVERSPEED_508"
	ErrUnderspeed    = "ERR_UNDERSPEED_509"
)

type metricProfile struct {
	name     string
	baseline float64
	jitter   float64
	highAt   float64
	lowAt    float64
	highCode string
	lowCode  string
}

var profiles = []metricProfile{
	{MetricPressure, 60, 4, 85, 40, ErrPressureHigh, ErrPressureLow},
	{MetricTemperature, 45, 3, 75, 0, ErrOverheat, ""},
	{MetricVibration, 12, 2, 25, 0, ErrVibrationHigh, ""},
	{MetricLoad, 18, 3, 32, 0, ErrOverload, ""},
	{MetricRPM, 1200, 60, 1500, 900, ErrOverspeed, ErrUnderspeed},
}

// Seed fills an empty store with plausible per-machine sensor history:
// hourly readings over the given number of days, plus a recent fault
// window on Filler_01 where pressure runs high. Seeding an already
// populated store is a no-op.
func (s *Store) Seed(ctx context.Context, days int) error {
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("scada store already populated, skipping seed", zap.Int("rows", n))
		return nil
	}
	if days <= 0 {
		days = 30
	}

	rng := rand.New(rand.NewSource(42))
	now := timeNow().Truncate(time.Hour)
	start := now.Add(-time.Duration(days) * 24 * time.Hour)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scada_logs (machine_name, timestamp, metric_name, value, error_code)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for ts := start; !ts.After(now); ts = ts.Add(time.Hour) {
		for _, machine := range Machines {
			for _, p := range profiles {
				value := p.baseline + rng.NormFloat64()*p.jitter

				// Fault window: Filler_01 pressure ramps high over the
				// last six hours of history.
				if machine == "Filler_01" && p.name == MetricPressure && now.Sub(ts) <= 6*time.Hour {
					value = p.highAt + 5 + rng.Float64()*10
				}

				code := sql.NullString{}
				if p.highCode != "" && value > p.highAt {
					code = sql.NullString{String: p.highCode, Valid: true}
				} else if p.lowCode != "" && value < p.lowAt {
					code = sql.NullString{String: p.lowCode, Valid: true}
				}

				if _, err := stmt.ExecContext(ctx, machine, ts.Format(time.RFC3339), p.name, value, code); err != nil {
					return fmt.Errorf("failed to insert seed row: %w", err)
				}
				inserted++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	s.logger.Info("seeded scada store",
		zap.Int("rows", inserted),
		zap.Int("days", days),
		zap.Int("machines", len(Machines)))
	return nil
}
