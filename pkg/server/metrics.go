package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gwillem/dofbot/pkg/robot"
)

// Metrics holds Prometheus counters and gauges for the robot server.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
	movesTotal     prometheus.Counter
	moveErrors     prometheus.Counter
	cameraFailures prometheus.Counter
	jointAngle     *prometheus.GaugeVec
}

// NewMetrics creates and registers the server metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dofbot_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dofbot_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		movesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dofbot_moves_total",
			Help: "Total number of moves written to the servos",
		}),
		moveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dofbot_move_errors_total",
			Help: "Total number of moves the servo bus rejected",
		}),
		cameraFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dofbot_camera_failures_total",
			Help: "Total number of snapshots that failed after the reset retry",
		}),
		jointAngle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dofbot_joint_angle_degrees",
			Help: "Last read angle per joint",
		}, []string{"joint"}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.movesTotal,
		m.moveErrors,
		m.cameraFailures,
		m.jointAngle,
	)
	return m
}

// SetAngles updates the joint angle gauges.
func (m *Metrics) SetAngles(angles robot.Angles) {
	for i, j := range robot.AllJoints() {
		if i < len(angles) {
			m.jointAngle.WithLabelValues(string(j)).Set(float64(angles[i]))
		}
	}
}

// Handler serves the metrics. updateGauges runs before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
