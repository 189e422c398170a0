package sim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/positioning"
)

// TraceFrame is one recorded frame. Frames are replayed at their offset
// from the first call to NextFrame.
type TraceFrame struct {
	OffsetMS      int64                  `json:"offset_ms"`
	EarthState    positioning.EarthState `json:"earth_state"`
	EarthTracking bool                   `json:"earth_tracking"`
	Sample        *geo.GeospatialSample  `json:"sample,omitempty"`
}

// Offset returns the frame's replay offset.
func (f TraceFrame) Offset() time.Duration {
	return time.Duration(f.OffsetMS) * time.Millisecond
}

// maxTraceLine bounds a single JSONL record.
const maxTraceLine = 64 * 1024

// ReadTrace parses a JSONL trace: one TraceFrame per line, offsets
// non-decreasing. Blank lines are skipped.
func ReadTrace(r io.Reader) ([]TraceFrame, error) {
	var frames []TraceFrame
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxTraceLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var f TraceFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		if f.EarthState == "" {
			f.EarthState = positioning.EarthEnabled
		}
		if n := len(frames); n > 0 && f.OffsetMS < frames[n-1].OffsetMS {
			return nil, fmt.Errorf("trace line %d: offset %dms precedes %dms", line, f.OffsetMS, frames[n-1].OffsetMS)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("trace is empty")
	}
	return frames, nil
}

// WriteTrace writes frames as JSONL.
func WriteTrace(w io.Writer, frames []TraceFrame) error {
	enc := json.NewEncoder(w)
	for i, f := range frames {
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("write trace frame %d: %w", i, err)
		}
	}
	return nil
}

// GenerateOptions shapes a synthetic converging trace.
type GenerateOptions struct {
	Origin         geo.Coordinate
	Altitude       float64
	Heading        float64
	Interval       time.Duration
	PretrackingFor time.Duration // earth not yet tracking
	ConvergeOver   time.Duration // accuracy improves linearly over this window
	HoldFor        time.Duration // steady state after convergence

	StartHorizontalAccuracy float64
	EndHorizontalAccuracy   float64
	StartHeadingAccuracy    float64
	EndHeadingAccuracy      float64
}

// DefaultGenerateOptions returns a trace that localizes roughly 20 seconds
// after tracking starts.
func DefaultGenerateOptions(origin geo.Coordinate) GenerateOptions {
	return GenerateOptions{
		Origin:                  origin,
		Altitude:                40,
		Heading:                 90,
		Interval:                100 * time.Millisecond,
		PretrackingFor:          2 * time.Second,
		ConvergeOver:            20 * time.Second,
		HoldFor:                 10 * time.Minute,
		StartHorizontalAccuracy: 35,
		EndHorizontalAccuracy:   3,
		StartHeadingAccuracy:    45,
		EndHeadingAccuracy:      5,
	}
}

// GenerateTrace builds a deterministic trace in which the device is first
// not tracking, then converges from poor to good accuracy while walking
// slowly east.
func GenerateTrace(opts GenerateOptions) []TraceFrame {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	total := opts.PretrackingFor + opts.ConvergeOver + opts.HoldFor
	n := int(total/opts.Interval) + 1
	frames := make([]TraceFrame, 0, n)
	for i := 0; i < n; i++ {
		at := time.Duration(i) * opts.Interval
		f := TraceFrame{
			OffsetMS:   at.Milliseconds(),
			EarthState: positioning.EarthEnabled,
		}
		if at >= opts.PretrackingFor {
			progress := 1.0
			if opts.ConvergeOver > 0 {
				progress = math.Min(1, float64(at-opts.PretrackingFor)/float64(opts.ConvergeOver))
			}
			walked := 0.5 * (at - opts.PretrackingFor).Seconds()
			f.EarthTracking = true
			f.Sample = &geo.GeospatialSample{
				Coordinate:          geo.OffsetCoordinate(opts.Origin, walked, 0),
				Altitude:            opts.Altitude,
				HorizontalAccuracy:  lerp(opts.StartHorizontalAccuracy, opts.EndHorizontalAccuracy, progress),
				VerticalAccuracy:    lerp(opts.StartHorizontalAccuracy, opts.EndHorizontalAccuracy, progress) / 2,
				Heading:             opts.Heading,
				HeadingAccuracy:     lerp(opts.StartHeadingAccuracy, opts.EndHeadingAccuracy, progress),
				EastUpSouthQ:        geo.HeadingToQuaternion(opts.Heading),
				EarthTrackingActive: true,
				EarthEnabled:        true,
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
