package db

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/localization"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBAppliesPragmasAndMigrations(t *testing.T) {
	db := setupTestDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	latest, err := LatestMigrationVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest = %d, want 3", latest)
	}

	status, err := db.GetMigrationStatus(MigrationsFS())
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if status.CurrentVersion != latest || status.Dirty || !status.SchemaMigrationsExists || status.Pending() {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)
	fsys := MigrationsFS()

	if err := db.MigrateDown(fsys); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	v, _, err := db.MigrateVersion(fsys)
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if v != 2 {
		t.Fatalf("version after down = %d, want 2", v)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='localization_log'`).Scan(&n)
	if n != 0 {
		t.Errorf("localization_log still present after down")
	}

	if err := db.MigrateTo(fsys, 3); err != nil {
		t.Fatalf("MigrateTo: %v", err)
	}
	if err := db.MigrateUp(fsys); err != nil {
		t.Fatalf("MigrateUp with no change should succeed: %v", err)
	}
}

func TestBaselineAtVersion(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "baseline.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	if err := db.BaselineAtVersion(2); err != nil {
		t.Fatalf("BaselineAtVersion: %v", err)
	}
	if err := db.BaselineAtVersion(2); err == nil {
		t.Error("second baseline should fail")
	}
	v, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if v != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 false", v, dirty)
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand([]string{"up"}, path, strings.NewReader(""), &out); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	out.Reset()
	if err := RunMigrateCommand([]string{"status"}, path, strings.NewReader(""), &out); err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 3") || !strings.Contains(out.String(), "up to date") {
		t.Errorf("unexpected status output:\n%s", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"force", "2"}, path, strings.NewReader("n\n"), &out); err != nil {
		t.Fatalf("migrate force: %v", err)
	}
	if !strings.Contains(out.String(), "Aborted") {
		t.Errorf("force without confirmation should abort, got:\n%s", out.String())
	}

	for _, args := range [][]string{nil, {"bogus"}, {"version"}, {"version", "x"}} {
		out.Reset()
		err := RunMigrateCommand(args, path, strings.NewReader(""), &out)
		if !errors.Is(err, ErrUsage) {
			t.Errorf("args %v: err = %v, want ErrUsage", args, err)
		}
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"help"}, path, strings.NewReader(""), &out); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(out.String(), "geoanchor migrate up") {
		t.Errorf("help output missing examples")
	}
}

func testDescriptors() []anchors.SavedDescriptor {
	return []anchors.SavedDescriptor{
		anchors.NewSavedDescriptor(anchors.KindWGS84, geo.Coordinate{Latitude: 35.681236, Longitude: 139.767125}, 40.5,
			geo.HeadingOrientation(90)),
		anchors.NewSavedDescriptor(anchors.KindTerrain, geo.Coordinate{Latitude: 35.6813, Longitude: 139.7672}, 0,
			geo.QuaternionOrientation(geo.Quaternion{X: 0.1825742, Y: 0.3651484, Z: 0.5477226, W: 0.7302967})),
		anchors.NewSavedDescriptor(anchors.KindWGS84, geo.Coordinate{Latitude: -33.8568, Longitude: 151.2153}, -2,
			geo.QuaternionOrientation(geo.IdentityQuaternion)),
	}
}

func TestSavedAnchorStoreRoundTrip(t *testing.T) {
	store := NewSavedAnchorStore(setupTestDB(t))

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no descriptors, got %d", len(got))
	}

	want := testDescriptors()
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got[1].Kind() != anchors.KindTerrain {
		t.Errorf("second descriptor kind = %v, want terrain", got[1].Kind())
	}

	// Save replaces rather than appends.
	if err := store.Save(want[:1]); err != nil {
		t.Fatalf("Save subset: %v", err)
	}
	got, _ = store.Load()
	if len(got) != 1 {
		t.Errorf("after replace got %d descriptors, want 1", len(got))
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ = store.Load()
	if len(got) != 0 {
		t.Errorf("after clear got %d descriptors", len(got))
	}
}

func TestSavedAnchorStoreRejectsInvalidDescriptor(t *testing.T) {
	store := NewSavedAnchorStore(setupTestDB(t))
	if err := store.Save(testDescriptors()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	bad := testDescriptors()
	bad = append(bad, anchors.SavedDescriptor{Latitude: 1, Longitude: 2})
	err := store.Save(bad)
	if !errors.Is(err, anchors.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}

	// The failed transaction leaves the previous contents intact.
	got, _ := store.Load()
	if len(got) != 3 {
		t.Errorf("got %d descriptors after failed save, want 3", len(got))
	}
}

func TestSavedAnchorStorePrivacyNotice(t *testing.T) {
	store := NewSavedAnchorStore(setupTestDB(t))

	ack, err := store.PrivacyNoticeAcknowledged()
	if err != nil || ack {
		t.Fatalf("initial ack = %v, %v; want false, nil", ack, err)
	}
	if err := store.SetPrivacyNoticeAcknowledged(true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ack, _ := store.PrivacyNoticeAcknowledged(); !ack {
		t.Error("ack should be true")
	}
	if err := store.SetPrivacyNoticeAcknowledged(false); err != nil {
		t.Fatalf("Set false: %v", err)
	}
	if ack, _ := store.PrivacyNoticeAcknowledged(); ack {
		t.Error("ack should be false after reset")
	}
}

func logSample(hAcc, headAcc float64) geo.GeospatialSample {
	return geo.GeospatialSample{
		Coordinate:         geo.Coordinate{Latitude: 35, Longitude: 139},
		Altitude:           12,
		HorizontalAccuracy: hAcc,
		VerticalAccuracy:   1,
		HeadingAccuracy:    headAcc,
	}
}

func TestLocalizationLogEntriesAndSummary(t *testing.T) {
	log := NewLocalizationLog(setupTestDB(t))
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := log.RecordTransition("ses_a", t0, localization.StatePretracking, localization.StateLocalizing, nil); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	for i := 1; i <= 10; i++ {
		s := logSample(float64(i), float64(i)*2)
		if err := log.RecordSample("ses_a", t0.Add(time.Duration(i)*time.Second), localization.StateLocalizing, s); err != nil {
			t.Fatalf("RecordSample: %v", err)
		}
	}
	s := logSample(4, 6)
	if err := log.RecordTransition("ses_a", t0.Add(12*time.Second), localization.StateLocalizing, localization.StateLocalized, &s); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}

	transitions, err := log.Transitions(t0, t0.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(transitions) != 2 {
		t.Fatalf("got %d transitions, want 2", len(transitions))
	}
	if transitions[0].FromState != localization.StatePretracking || transitions[0].Latitude != nil {
		t.Errorf("unexpected first transition %+v", transitions[0])
	}
	if transitions[1].State != localization.StateLocalized || transitions[1].HorizontalAccuracy == nil {
		t.Errorf("unexpected second transition %+v", transitions[1])
	}
	if !transitions[1].Timestamp.Equal(t0.Add(12 * time.Second)) {
		t.Errorf("timestamp = %v", transitions[1].Timestamp)
	}

	limited, _ := log.Samples(t0, t0.Add(time.Minute), 3)
	if len(limited) != 3 || *limited[0].HorizontalAccuracy != 1 {
		t.Errorf("limited samples = %+v", limited)
	}

	sum, err := log.Summary(t0, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Samples != 10 || sum.Transitions != 2 {
		t.Errorf("counts = %d samples %d transitions", sum.Samples, sum.Transitions)
	}
	if sum.StateCounts[localization.StateLocalizing] != 10 {
		t.Errorf("state counts = %v", sum.StateCounts)
	}
	if len(sum.TimeToLocalize) != 1 || sum.TimeToLocalize[0] != 12 {
		t.Errorf("time to localize = %v, want [12]", sum.TimeToLocalize)
	}
	h := sum.HorizontalAccuracy
	if h.Mean != 5.5 || h.Max != 10 || h.P50 != 5 {
		t.Errorf("horizontal stats = %+v", h)
	}
	if sum.HeadingAccuracy.Max != 20 {
		t.Errorf("heading max = %v, want 20", sum.HeadingAccuracy.Max)
	}
}

func TestLocalizationSummaryEmptyWindow(t *testing.T) {
	log := NewLocalizationLog(setupTestDB(t))
	now := time.Now()
	sum, err := log.Summary(now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Samples != 0 || sum.HorizontalAccuracy != (AccuracyStats{}) {
		t.Errorf("expected zero summary, got %+v", sum)
	}
}

func TestAccuracyStatsSingleValue(t *testing.T) {
	s := accuracyStats([]float64{3})
	if s.Mean != 3 || s.StdDev != 0 || s.P98 != 3 || s.Max != 3 {
		t.Errorf("single value stats = %+v", s)
	}
}
