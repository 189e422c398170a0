package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/geoanchor/internal/api"
	"github.com/banshee-data/geoanchor/internal/config"
	"github.com/banshee-data/geoanchor/internal/db"
	"github.com/banshee-data/geoanchor/internal/fsutil"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/lifecycle"
	"github.com/banshee-data/geoanchor/internal/localization"
	"github.com/banshee-data/geoanchor/internal/persist"
	"github.com/banshee-data/geoanchor/internal/positioning/sim"
	"github.com/banshee-data/geoanchor/internal/reconcile"
	"github.com/banshee-data/geoanchor/internal/timeutil"
)

// privacyNotice is shown until the user acknowledges it.
const privacyNotice = `To power this session, geoanchor processes visual data from your camera.
Anchor coordinates you place are stored on this device so they can be
restored in a later session. Re-run with -ack-privacy to accept.`

// ErrPrivacyNotAcknowledged stops startup until the notice is accepted.
var ErrPrivacyNotAcknowledged = errors.New("privacy notice not acknowledged")

// storage bundles whatever the configured persistence kind provides.
type storage struct {
	store    persist.Store
	recorder reconcile.Recorder // nil unless sqlite
	history  api.History        // nil unless sqlite
	close    func() error
}

// sqliteStore combines the saved anchor table with its preferences row.
type sqliteStore struct {
	*db.SavedAnchorStore
}

var _ persist.Store = sqliteStore{}

func openStorage(cfg *config.Config) (*storage, error) {
	switch kind := cfg.GetPersistence(); kind {
	case config.PersistenceSQLite:
		database, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			return nil, err
		}
		locLog := db.NewLocalizationLog(database)
		return &storage{
			store:    sqliteStore{db.NewSavedAnchorStore(database)},
			recorder: locLog,
			history:  locLog,
			close:    database.Close,
		}, nil
	case config.PersistenceFile:
		return &storage{
			store: persist.NewFileStore(fsutil.OSFileSystem{}, cfg.GetPrefsPath()),
			close: func() error { return nil },
		}, nil
	case config.PersistenceMemory:
		return &storage{
			store: persist.NewMemoryStore(),
			close: func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown persistence %q", kind)
	}
}

// checkPrivacy returns nil once the notice has been acknowledged, recording
// the acknowledgement when ack is set. Otherwise it prints the notice.
func checkPrivacy(prefs persist.Preferences, ack bool, out io.Writer) error {
	acknowledged, err := prefs.PrivacyNoticeAcknowledged()
	if err != nil {
		return err
	}
	if acknowledged {
		return nil
	}
	if ack {
		return prefs.SetPrivacyNoticeAcknowledged(true)
	}
	fmt.Fprintln(out, privacyNotice)
	return ErrPrivacyNotAcknowledged
}

// defaultOrigin is where generated traces are placed when no trace file is
// given.
var defaultOrigin = geo.Coordinate{Latitude: 37.4220, Longitude: -122.0841}

// loadTrace reads a JSONL trace, or generates one when path is empty.
func loadTrace(path string, cfg *config.Config) ([]sim.TraceFrame, error) {
	if path == "" {
		opts := sim.DefaultGenerateOptions(defaultOrigin)
		opts.Interval = cfg.GetFrameInterval()
		return sim.GenerateTrace(opts), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sim.ReadTrace(f)
}

// buildRunner wires the simulator, lifecycle manager and reconciler.
func buildRunner(cfg *config.Config, frames []sim.TraceFrame, st *storage, clock timeutil.Clock) (*reconcile.Runner, *sim.Simulator, error) {
	simulator, err := sim.New(frames, sim.Options{
		TerrainResolveDelay: cfg.GetTerrainResolveDelay(),
		TerrainQuota:        cfg.GetTerrainQuota(),
	})
	if err != nil {
		return nil, nil, err
	}
	manager := lifecycle.NewManager(simulator, st.store, cfg.GetMaxAnchors())
	runner := reconcile.NewRunner(reconcile.RunnerConfig{
		Clock:      clock,
		Source:     simulator,
		Reconciler: reconcile.NewReconciler(manager, cfg.GetTerrainStallDelay()),
		Thresholds: localization.ThresholdsFromConfig(cfg),
		Interval:   cfg.GetFrameInterval(),
		Recorder:   st.recorder,
	})
	return runner, simulator, nil
}
