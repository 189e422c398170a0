package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/localization"
)

const (
	logKindTransition = "transition"
	logKindSample     = "sample"
)

// LocalizationLog records state transitions and sampled accuracy readings in
// the localization_log table.
type LocalizationLog struct {
	db *DB
}

func NewLocalizationLog(db *DB) *LocalizationLog {
	return &LocalizationLog{db: db}
}

// LogEntry is one localization_log row.
type LogEntry struct {
	SessionID          string             `json:"session_id"`
	Timestamp          time.Time          `json:"timestamp"`
	Kind               string             `json:"kind"`
	State              localization.State `json:"state"`
	FromState          localization.State `json:"from_state,omitempty"`
	Latitude           *float64           `json:"latitude,omitempty"`
	Longitude          *float64           `json:"longitude,omitempty"`
	Altitude           *float64           `json:"altitude,omitempty"`
	HorizontalAccuracy *float64           `json:"horizontal_accuracy,omitempty"`
	VerticalAccuracy   *float64           `json:"vertical_accuracy,omitempty"`
	HeadingAccuracy    *float64           `json:"heading_accuracy,omitempty"`
}

// RecordTransition stores a state change. sample may be nil.
func (l *LocalizationLog) RecordTransition(sessionID string, at time.Time, from, to localization.State, sample *geo.GeospatialSample) error {
	return l.insert(sessionID, at, logKindTransition, to, string(from), sample)
}

// RecordSample stores one accuracy reading.
func (l *LocalizationLog) RecordSample(sessionID string, at time.Time, state localization.State, sample geo.GeospatialSample) error {
	return l.insert(sessionID, at, logKindSample, state, "", &sample)
}

func (l *LocalizationLog) insert(sessionID string, at time.Time, kind string, state localization.State, from string, s *geo.GeospatialSample) error {
	var lat, lon, alt, hAcc, vAcc, headAcc sql.NullFloat64
	if s != nil {
		lat = sql.NullFloat64{Float64: s.Coordinate.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: s.Coordinate.Longitude, Valid: true}
		alt = sql.NullFloat64{Float64: s.Altitude, Valid: true}
		hAcc = sql.NullFloat64{Float64: s.HorizontalAccuracy, Valid: true}
		vAcc = sql.NullFloat64{Float64: s.VerticalAccuracy, Valid: true}
		headAcc = sql.NullFloat64{Float64: s.HeadingAccuracy, Valid: true}
	}
	fromState := sql.NullString{String: from, Valid: from != ""}

	_, err := l.db.Exec(`
		INSERT INTO localization_log (
			session_id, ts_unix_nanos, kind, state, from_state,
			latitude, longitude, altitude,
			horizontal_accuracy, vertical_accuracy, heading_accuracy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, at.UnixNano(), kind, string(state), fromState,
		lat, lon, alt, hAcc, vAcc, headAcc)
	if err != nil {
		return fmt.Errorf("insert localization_log %s: %w", kind, err)
	}
	return nil
}

// Entries returns rows with timestamps in [since, until), oldest first. An
// empty kind matches both kinds. limit <= 0 means no limit.
func (l *LocalizationLog) Entries(kind string, since, until time.Time, limit int) ([]LogEntry, error) {
	query := `
		SELECT session_id, ts_unix_nanos, kind, state, from_state,
			latitude, longitude, altitude,
			horizontal_accuracy, vertical_accuracy, heading_accuracy
		FROM localization_log
		WHERE ts_unix_nanos >= ? AND ts_unix_nanos < ?`
	args := []interface{}{since.UnixNano(), until.UnixNano()}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY ts_unix_nanos ASC, log_id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query localization_log: %w", err)
	}
	defer rows.Close()

	out := []LogEntry{}
	for rows.Next() {
		var (
			e                      LogEntry
			ts                     int64
			state                  string
			from                   sql.NullString
			lat, lon, alt          sql.NullFloat64
			hAcc, vAcc, headingAcc sql.NullFloat64
		)
		if err := rows.Scan(&e.SessionID, &ts, &e.Kind, &state, &from,
			&lat, &lon, &alt, &hAcc, &vAcc, &headingAcc); err != nil {
			return nil, fmt.Errorf("scan localization_log: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.State = localization.State(state)
		if from.Valid {
			e.FromState = localization.State(from.String)
		}
		e.Latitude = floatPtr(lat)
		e.Longitude = floatPtr(lon)
		e.Altitude = floatPtr(alt)
		e.HorizontalAccuracy = floatPtr(hAcc)
		e.VerticalAccuracy = floatPtr(vAcc)
		e.HeadingAccuracy = floatPtr(headingAcc)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Samples returns sample rows in [since, until).
func (l *LocalizationLog) Samples(since, until time.Time, limit int) ([]LogEntry, error) {
	return l.Entries(logKindSample, since, until, limit)
}

// Transitions returns transition rows in [since, until).
func (l *LocalizationLog) Transitions(since, until time.Time, limit int) ([]LogEntry, error) {
	return l.Entries(logKindTransition, since, until, limit)
}

// AccuracyStats summarises one accuracy column.
type AccuracyStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P85    float64 `json:"p85"`
	P98    float64 `json:"p98"`
	Max    float64 `json:"max"`
}

// LocalizationSummary aggregates a window of the log.
type LocalizationSummary struct {
	Samples            int                        `json:"samples"`
	Transitions        int                        `json:"transitions"`
	StateCounts        map[localization.State]int `json:"state_counts"`
	TimeToLocalize     []float64                  `json:"time_to_localize_seconds"`
	HorizontalAccuracy AccuracyStats              `json:"horizontal_accuracy"`
	HeadingAccuracy    AccuracyStats              `json:"heading_accuracy"`
}

// Summary computes accuracy percentiles over the samples in [since, until)
// and, from the transitions, how long each Localizing attempt took to reach
// Localized.
func (l *LocalizationLog) Summary(since, until time.Time) (LocalizationSummary, error) {
	entries, err := l.Entries("", since, until, 0)
	if err != nil {
		return LocalizationSummary{}, err
	}

	sum := LocalizationSummary{
		StateCounts:    map[localization.State]int{},
		TimeToLocalize: []float64{},
	}
	var horiz, heading []float64
	localizingSince := map[string]time.Time{}

	for _, e := range entries {
		switch e.Kind {
		case logKindSample:
			sum.Samples++
			sum.StateCounts[e.State]++
			if e.HorizontalAccuracy != nil {
				horiz = append(horiz, *e.HorizontalAccuracy)
			}
			if e.HeadingAccuracy != nil {
				heading = append(heading, *e.HeadingAccuracy)
			}
		case logKindTransition:
			sum.Transitions++
			switch e.State {
			case localization.StateLocalizing:
				localizingSince[e.SessionID] = e.Timestamp
			case localization.StateLocalized:
				if start, ok := localizingSince[e.SessionID]; ok {
					sum.TimeToLocalize = append(sum.TimeToLocalize, e.Timestamp.Sub(start).Seconds())
					delete(localizingSince, e.SessionID)
				}
			}
		}
	}

	sum.HorizontalAccuracy = accuracyStats(horiz)
	sum.HeadingAccuracy = accuracyStats(heading)
	return sum, nil
}

func accuracyStats(xs []float64) AccuracyStats {
	if len(xs) == 0 {
		return AccuracyStats{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	var s AccuracyStats
	s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		s.StdDev = 0
	}
	s.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P85 = stat.Quantile(0.85, stat.Empirical, sorted, nil)
	s.P98 = stat.Quantile(0.98, stat.Empirical, sorted, nil)
	s.Max = sorted[len(sorted)-1]
	return s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
