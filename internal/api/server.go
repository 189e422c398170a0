// Package api serves the session status, anchor actions and localization
// history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/db"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/httputil"
	"github.com/banshee-data/geoanchor/internal/positioning"
	"github.com/banshee-data/geoanchor/internal/reconcile"
	"github.com/banshee-data/geoanchor/internal/timeutil"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// maxBodyBytes bounds request bodies; the largest is an add-anchor request
// with a 16-float transform.
const maxBodyBytes = 4 << 10

// commandTimeout bounds how long a handler waits for the frame loop.
const commandTimeout = 5 * time.Second

// Controller is the part of the frame loop the HTTP layer drives.
type Controller interface {
	Latest() reconcile.Result
	Submit(ctx context.Context, cmd reconcile.Command) (reconcile.CommandResult, error)
	PushEvent(e reconcile.Event)
}

// History is the localization log the HTTP layer reads.
type History interface {
	Entries(kind string, since, until time.Time, limit int) ([]db.LogEntry, error)
	Summary(since, until time.Time) (db.LocalizationSummary, error)
}

type Server struct {
	ctrl    Controller
	history History // nil when no database is configured
	clock   timeutil.Clock
}

// NewServer builds a Server. history may be nil, in which case the
// localization endpoints answer 404.
func NewServer(ctrl Controller, history History, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{ctrl: ctrl, history: history, clock: clock}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/anchors", s.handleAnchors)
	mux.HandleFunc("/api/session/restart", s.restartSession)
	mux.HandleFunc("/api/events/permission", s.postPermission)
	mux.HandleFunc("/api/events/vps", s.postVPSAvailability)
	mux.HandleFunc("/api/localization/history", s.listLocalizationHistory)
	mux.HandleFunc("/api/localization/summary", s.showLocalizationSummary)
	mux.HandleFunc("/api/localization/chart", s.handleAccuracyChart)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Latest())
}

func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		latest := s.ctrl.Latest()
		httputil.WriteJSONOK(w, map[string]interface{}{
			"anchors":        latest.VisibleAnchors,
			"anchor_count":   latest.AnchorCount,
			"can_add_anchor": latest.CanAddAnchor,
			"can_clear":      latest.CanClear,
		})
	case http.MethodPost:
		s.addAnchor(w, r)
	case http.MethodDelete:
		s.clearAnchors(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

type addAnchorRequest struct {
	Terrain        bool           `json:"terrain"`
	WorldTransform *geo.Transform `json:"world_transform,omitempty"`
}

func (s *Server) addAnchor(w http.ResponseWriter, r *http.Request) {
	var req addAnchorRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	res, ok := s.submit(w, r, reconcile.AddAnchorCommand{
		UseTerrain:     req.Terrain,
		WorldTransform: req.WorldTransform,
	})
	if !ok {
		return
	}
	httputil.WriteJSONCreated(w, map[string]interface{}{
		"anchor_id": res.AnchorID,
		"terrain":   req.Terrain,
	})
}

func (s *Server) clearAnchors(w http.ResponseWriter, r *http.Request) {
	res, ok := s.submit(w, r, reconcile.ClearAllCommand{})
	if !ok {
		return
	}
	removed := res.Removed
	if removed == nil {
		removed = []anchors.ID{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"removed": removed})
}

func (s *Server) restartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if _, ok := s.submit(w, r, reconcile.RestartSessionCommand{}); !ok {
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Latest())
}

// submit runs cmd on the frame loop and writes the error response itself
// when the command fails.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd reconcile.Command) (reconcile.CommandResult, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	res, err := s.ctrl.Submit(ctx, cmd)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		httputil.WriteJSONError(w, statusForError(err), err.Error())
		return res, false
	}
	return res, true
}

// statusForError maps anchor and loop errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, anchors.ErrNotLocalized),
		errors.Is(err, anchors.ErrSessionFailed),
		errors.Is(err, anchors.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, anchors.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, anchors.ErrBackend):
		return http.StatusBadGateway
	case errors.Is(err, reconcile.ErrRunnerStopped),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) postPermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Status positioning.PermissionStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	switch req.Status {
	case positioning.PermissionGranted, positioning.PermissionDenied, positioning.PermissionUnknown:
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown permission status %q", req.Status))
		return
	}
	s.ctrl.PushEvent(reconcile.PermissionEvent{Status: req.Status})
	httputil.WriteJSONAccepted(w, map[string]string{"status": string(req.Status)})
}

func (s *Server) postVPSAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Availability positioning.VPSAvailability `json:"availability"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	switch req.Availability {
	case positioning.VPSUnknown, positioning.VPSAvailable, positioning.VPSUnavailable:
	default:
		if !req.Availability.IsError() {
			httputil.BadRequest(w, fmt.Sprintf("unknown VPS availability %q", req.Availability))
			return
		}
	}
	s.ctrl.PushEvent(reconcile.VPSAvailabilityEvent{Availability: req.Availability})
	httputil.WriteJSONAccepted(w, map[string]string{"availability": string(req.Availability)})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}
