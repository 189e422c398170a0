package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/geoanchor/internal/api"
	"github.com/banshee-data/geoanchor/internal/config"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/httputil"
	"github.com/banshee-data/geoanchor/internal/positioning/sim"
)

// runCtl drives a running server through its HTTP API. hc may be nil.
func runCtl(ctx context.Context, args []string, hc httputil.HTTPClient, out io.Writer) error {
	fs := flag.NewFlagSet("ctl", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", "http://localhost:8090", "Server base URL")
	minutes := fs.Int("minutes", 60, "Summary window in minutes")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one action: status, add, add-terrain, clear, restart, summary")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	c := api.NewClient(*addr, hc)

	var (
		result interface{}
		err    error
	)
	switch action := fs.Arg(0); action {
	case "status":
		res, e := c.Status(ctx)
		if e == nil {
			fmt.Fprintln(out, res.StatusMessage)
			if res.TrackingText != "" {
				fmt.Fprintln(out, res.TrackingText)
			}
		}
		result, err = res, e
	case "add", "add-terrain":
		id, e := c.AddAnchor(ctx, action == "add-terrain", nil)
		result, err = map[string]interface{}{"anchor_id": id}, e
	case "clear":
		removed, e := c.ClearAnchors(ctx)
		result, err = map[string]interface{}{"removed": removed}, e
	case "restart":
		result, err = c.RestartSession(ctx)
	case "summary":
		result, err = c.Summary(ctx, *minutes)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runGenTrace writes a generated JSONL trace that -trace can replay.
func runGenTrace(args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("gen-trace", flag.ContinueOnError)
	fs.SetOutput(out)
	lat := fs.Float64("lat", defaultOrigin.Latitude, "Origin latitude")
	lon := fs.Float64("lon", defaultOrigin.Longitude, "Origin longitude")
	heading := fs.Float64("heading", 90, "Camera heading in degrees")
	pretracking := fs.Duration("pretracking", 2*time.Second, "Time before earth tracking starts")
	converge := fs.Duration("converge", 20*time.Second, "Time for accuracy to converge")
	hold := fs.Duration("hold", 5*time.Minute, "Steady-state time after convergence")
	if err := fs.Parse(args); err != nil {
		return err
	}

	origin := geo.Coordinate{Latitude: *lat, Longitude: *lon}
	if !origin.Valid() {
		return fmt.Errorf("origin %s out of range", origin)
	}
	opts := sim.DefaultGenerateOptions(origin)
	opts.Heading = *heading
	opts.Interval = cfg.GetFrameInterval()
	opts.PretrackingFor = *pretracking
	opts.ConvergeOver = *converge
	opts.HoldFor = *hold

	return sim.WriteTrace(out, sim.GenerateTrace(opts))
}
