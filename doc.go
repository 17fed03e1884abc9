// Package dofbot drives a Yahboom Dofbot 6-servo arm over HTTP.
//
// The robot side runs a small HTTP API next to the servo bus; the control
// panel talks to it from any machine on the network, jogs joints, records
// positions into a queue and plays the queue back one move at a time.
//
// # Installation
//
//	go install github.com/gwillem/dofbot/cmd/dofbot@latest
//
// # Usage
//
// On the arm's computer, find and calibrate the arm, then serve it:
//
//	dofbot scan
//	dofbot calibrate
//	dofbot serve
//
// On the operator's machine:
//
//	dofbot panel --address 192.168.1.20
//
// Without hardware, `dofbot serve --sim` serves a simulated arm and a test
// pattern camera.
//
// # Packages
//
//   - cmd/dofbot: CLI with panel, serve, scan and calibrate commands
//   - pkg/robot: joints, angle vectors, servo calibration and arm backends
//   - pkg/queue: position queue and playback state store
//   - pkg/playback: driver that plays the queue on the robot
//   - pkg/link: HTTP client for the robot API
//   - pkg/server: the robot API with request logging and Prometheus metrics
//   - pkg/camera: snapshot capture and scaling
//   - pkg/session: persisted robot address and last pose
//   - pkg/config: YAML configuration with environment overrides
//   - pkg/logger: zerolog setup
package dofbot
