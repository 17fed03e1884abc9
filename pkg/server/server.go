// Package server exposes a robot arm over the Dofbot HTTP API:
//
//	GET /angles                          current joint angles
//	GET /set_angles?angles=A,B,C,D,E,F&t=T move all joints over T milliseconds
//	GET /home                            move to the home pose
//	GET /image                           JPEG camera snapshot
//
// Moves block until the arm has had time to settle, so a 200 response means
// the move is complete.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	zlog "github.com/rs/zerolog/log"

	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/robot"
)

// DefaultMoveTime is used when /set_angles has no t parameter.
const DefaultMoveTime = 5000 * time.Millisecond

// Arm is a six-joint arm addressed in degrees.
type Arm interface {
	ReadAngles(ctx context.Context) (robot.Angles, error)
	WriteAngles(ctx context.Context, angles robot.Angles, d time.Duration) error
}

// Config holds move timing.
type Config struct {
	Settle     time.Duration // extra wait after a move's duration
	HomeMove   time.Duration // duration of the move to the home pose
	HomeSettle time.Duration // wait after the home move
}

// DefaultConfig returns the timing of the stock robot firmware.
func DefaultConfig() Config {
	return Config{
		Settle:     500 * time.Millisecond,
		HomeMove:   1000 * time.Millisecond,
		HomeSettle: 500 * time.Millisecond,
	}
}

type anglesResponse struct {
	Status string `json:"status,omitempty"`
	Angles []int  `json:"angles"`
}

// Server serves one arm and an optional camera.
type Server struct {
	arm     Arm
	camera  camera.Capturer
	cfg     Config
	metrics *Metrics

	// the servo bus takes one command sequence at a time
	moveMu sync.Mutex
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a server. cam and m may be nil.
func New(arm Arm, cam camera.Capturer, cfg Config, m *Metrics) *Server {
	return &Server{
		arm:     arm,
		camera:  cam,
		cfg:     cfg,
		metrics: m,
		sleep:   sleepContext,
	}
}

// Routes returns the HTTP handler with logging and metrics middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if s.metrics != nil {
		r.Use(requestMetrics(s.metrics))
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			s.metrics.Handler(func() {
				if angles, err := s.arm.ReadAngles(r.Context()); err == nil {
					s.metrics.SetAngles(angles)
				}
			}).ServeHTTP(w, r)
		})
	}
	r.Get("/", s.Index)
	r.Get("/angles", s.Angles)
	r.Get("/set_angles", s.SetAngles)
	r.Get("/home", s.Home)
	r.Get("/image", s.Image)
	return r
}

// Angles handles GET /angles.
func (s *Server) Angles(w http.ResponseWriter, r *http.Request) {
	angles, err := s.arm.ReadAngles(r.Context())
	if err != nil {
		zlog.Error().Err(err).Msg("read angles failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, anglesResponse{Angles: angles})
}

// SetAngles handles GET /set_angles. Angles outside the safe range of their
// joint are clamped.
func (s *Server) SetAngles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	raw := strings.Split(q.Get("angles"), ",")
	if len(raw) != robot.NumJoints {
		http.Error(w, "Invalid number of angles, must be 6", http.StatusBadRequest)
		return
	}
	angles, err := robot.ParseAngles(q.Get("angles"))
	if err != nil {
		http.Error(w, "Invalid angle value", http.StatusBadRequest)
		return
	}

	d := DefaultMoveTime
	if t := q.Get("t"); t != "" {
		ms, err := strconv.Atoi(t)
		if err != nil || ms < 0 {
			http.Error(w, "Invalid move time", http.StatusBadRequest)
			return
		}
		d = time.Duration(ms) * time.Millisecond
	}

	s.move(w, r, angles.Clamp(), d, d+s.cfg.Settle)
}

// Home handles GET /home.
func (s *Server) Home(w http.ResponseWriter, r *http.Request) {
	s.move(w, r, robot.HomeAngles(), s.cfg.HomeMove, s.cfg.HomeMove+s.cfg.HomeSettle)
}

func (s *Server) move(w http.ResponseWriter, r *http.Request, angles robot.Angles, d, wait time.Duration) {
	ctx := r.Context()
	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	zlog.Debug().Str("angles", angles.String()).Dur("duration", d).Msg("move")
	if err := s.arm.WriteAngles(ctx, angles, d); err != nil {
		if s.metrics != nil {
			s.metrics.moveErrors.Inc()
		}
		zlog.Error().Err(err).Str("angles", angles.String()).Msg("move failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.movesTotal.Inc()
	}

	if err := s.sleep(ctx, wait); err != nil {
		// client went away; the arm still completes the move
		return
	}

	reported, err := s.arm.ReadAngles(ctx)
	if err != nil {
		zlog.Error().Err(err).Msg("read angles after move failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.SetAngles(reported)
	}
	writeJSON(w, anglesResponse{Status: "OK", Angles: reported})
}

// Image handles GET /image.
func (s *Server) Image(w http.ResponseWriter, r *http.Request) {
	if s.camera == nil {
		http.Error(w, "no camera configured", http.StatusNotFound)
		return
	}
	frame, err := s.camera.Capture(r.Context())
	if err != nil {
		if s.metrics != nil {
			s.metrics.cameraFailures.Inc()
		}
		zlog.Error().Err(err).Msg("capture failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(frame)
}

const indexHTML = `<h1>Dofbot Web Controller</h1>
<p>Use the endpoints to control the arm:</p>
<ul>
  <li>GET /image - capture an image from the camera</li>
  <li>GET /set_angles?angles=A,B,C,D,E,F&amp;t=T - move all joints to given angles (A,B,C,D,E,F) over T milliseconds</li>
  <li>GET /angles - get the current angles of all joints</li>
  <li>GET /home - return arm to home position</li>
  <li>GET /metrics - Prometheus metrics</li>
</ul>
`

// Index handles GET /.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for move")
	case <-t.C:
		return nil
	}
}
