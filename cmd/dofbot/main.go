package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/gwillem/dofbot/pkg/config"
	"github.com/gwillem/dofbot/pkg/logger"
)

type Options struct {
	Config  string `short:"c" long:"config" description:"Configuration file (default: $XDG_CONFIG_HOME/dofbot/config.yaml)"`
	Verbose bool   `short:"v" long:"verbose" description:"Debug logging"`

	Panel     PanelCommand     `command:"panel" description:"Control panel: jog joints, record and play position queues"`
	Serve     ServeCommand     `command:"serve" description:"Run the robot-side HTTP API on the arm's computer"`
	Scan      ScanCommand      `command:"scan" description:"Find serial ports with a 6-servo arm"`
	Calibrate CalibrateCommand `command:"calibrate" description:"Record servo ranges and write the arm calibration file"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	parser.LongDescription = "dofbot - control panel and HTTP API for the Dofbot 6-servo arm"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file named by --config, or the default
// path, and applies --verbose.
func loadConfig() (*config.Config, error) {
	path := opts.Config
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// initLogger sets up zerolog. output is "stdout" for console commands and
// "file" for the full-screen panel.
func initLogger(cfg *config.Config, output, defaultFile string) (func() error, error) {
	file := cfg.Log.File
	if file == "" {
		file = defaultFile
	}
	return logger.Init(logger.Config{Output: output, Level: cfg.Log.Level, File: file})
}
