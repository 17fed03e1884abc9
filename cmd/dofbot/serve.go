package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	zlog "github.com/rs/zerolog/log"

	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/config"
	"github.com/gwillem/dofbot/pkg/robot"
	"github.com/gwillem/dofbot/pkg/server"
)

const shutdownTimeout = 10 * time.Second

type ServeCommand struct {
	Addr    string `long:"addr" description:"Listen address (default from config, :5000)"`
	ArmFile string `long:"arm-file" description:"Arm calibration file (default from config)"`
	Sim     bool   `long:"sim" description:"Use a simulated arm and a test-pattern camera"`
}

// armBackend is what serve needs from an arm.
type armBackend interface {
	server.Arm
	Close() error
}

func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := initLogger(cfg, "stdout", "")
	if err != nil {
		return err
	}
	defer closeLog()

	addr := cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	arm, unlock, err := c.openArm(ctx, cfg)
	if err != nil {
		return err
	}
	defer unlock()
	defer arm.Close()

	cam, err := c.openCamera(cfg.Server.Camera)
	if err != nil {
		zlog.Warn().Err(err).Msg("camera disabled")
	}

	srv := server.New(arm, cam, server.Config{
		Settle:     cfg.Server.Settle(),
		HomeMove:   cfg.Server.HomeMove(),
		HomeSettle: cfg.Server.HomeSettle(),
	}, server.NewMetrics())

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	zlog.Info().Str("addr", addr).Bool("sim", c.Sim).Msg("server starting")

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	zlog.Info().Msg("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	zlog.Info().Msg("server stopped")
	return nil
}

// openArm returns the arm backend and a function releasing the bus lock.
func (c *ServeCommand) openArm(ctx context.Context, cfg *config.Config) (armBackend, func(), error) {
	if c.Sim {
		zlog.Info().Msg("using simulated arm")
		return robot.NewSimArm(), func() {}, nil
	}

	armFile := cfg.Server.CalibrationFile
	if c.ArmFile != "" {
		armFile = c.ArmFile
	}
	armCfg, err := robot.LoadArmConfig(armFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s (run 'dofbot calibrate' first)", armFile)
	}
	if !armCfg.IsCalibrated() {
		return nil, nil, errors.Newf("%s has no complete calibration; run 'dofbot calibrate'", armFile)
	}
	port := armCfg.Port
	if cfg.Server.SerialPort != "" {
		port = cfg.Server.SerialPort
	}

	lock := flock.New(busLockPath(port))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, errors.Wrap(err, "lock serial bus")
	}
	if !locked {
		return nil, nil, errors.Newf("%s is in use by another dofbot server", port)
	}
	unlock := func() { _ = lock.Unlock() }

	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	arm, err := robot.NewArm(openCtx, port, armCfg.Calibration)
	if err != nil {
		unlock()
		return nil, nil, errors.Wrapf(err, "open arm on %s", port)
	}
	if err := arm.Enable(openCtx); err != nil {
		zlog.Warn().Err(err).Msg("enable torque failed")
	}
	zlog.Info().Str("port", port).Msg("arm connected")
	return arm, unlock, nil
}

func (c *ServeCommand) openCamera(cfg config.CameraConfig) (camera.Capturer, error) {
	if c.Sim || cfg.TestPattern {
		return camera.NewTestPattern(max(cfg.Width, 320), max(cfg.Width, 320)*3/4), nil
	}
	cam, err := camera.NewCommandCapturer(cfg.Command, cfg.ResetCommand, cfg.Width)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

// busLockPath maps a serial device to a lock file, e.g. /dev/ttyUSB0 to
// $TMPDIR/dofbot-ttyUSB0.lock.
func busLockPath(port string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(filepath.Base(port))
	return filepath.Join(os.TempDir(), "dofbot-"+name+".lock")
}
