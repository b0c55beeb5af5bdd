// Command meshcop-commissioner retrieves Thread network credentials from
// a border router in commissioning mode.
//
// It discovers a border router advertising _meshcop-e._udp, establishes
// an EC-JPAKE secured DTLS session with the admin code shown on the
// router, petitions for the active commissioner role and fetches the
// Active Operational Dataset.
//
// Usage:
//
//	meshcop-commissioner [flags]
//	meshcop-commissioner events <file.clog>
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-interface string   Network interface for discovery (default: all)
//	-timeout float      Discovery timeout in seconds, <= 0 waits forever (default 30)
//	-admin-code string  Admin code; prompted for interactively when empty
//	-host string        Skip discovery and connect to this IPv4 address
//	-port int           Port for -host (default 49191)
//	-log-level string   Console log level: debug, info, warn, error (default "info")
//	-dtls-log string    Transport debug level: none, error, info, verbose (default "error")
//	-event-log string   Write protocol events to this CBOR file (rotated)
//	-interactive        Enable interactive command mode
//
// Interactive Commands:
//
//	discover          - Discover commissioning-mode border routers
//	connect [code]    - Connect to the last discovered router (prompts when no code is given)
//	dataset           - Petition and fetch the operational dataset
//	close             - Tear down the session
//	status            - Show the last discovered router
//	quit              - Exit
package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/thread-tools/meshcop-go/pkg/log"
	"github.com/thread-tools/meshcop-go/pkg/service"
)

// Config holds the commissioner CLI configuration.
type Config struct {
	Interface      string  `yaml:"interface"`
	TimeoutSeconds float64 `yaml:"discovery_timeout_seconds"`
	ReadTimeoutSec float64 `yaml:"read_timeout_seconds"`
	CommissionerID string  `yaml:"commissioner_id"`
	LogLevel       string  `yaml:"log_level"`
	DTLSLogLevel   string  `yaml:"dtls_log_level"`
	EventLog       string  `yaml:"event_log"`

	AdminCode   string `yaml:"-"`
	Host        string `yaml:"-"`
	Port        int    `yaml:"-"`
	Interactive bool   `yaml:"-"`
}

var config = Config{
	TimeoutSeconds: 30,
	ReadTimeoutSec: 10,
	LogLevel:       "info",
	DTLSLogLevel:   "error",
}

func init() {
	flag.StringVar(&config.Interface, "interface", "", "Network interface for discovery")
	flag.Float64Var(&config.TimeoutSeconds, "timeout", 30, "Discovery timeout in seconds, <= 0 waits forever")
	flag.StringVar(&config.AdminCode, "admin-code", "", "Admin code displayed by the border router")
	flag.StringVar(&config.Host, "host", "", "Skip discovery and connect to this IPv4 address")
	flag.IntVar(&config.Port, "port", 49191, "Port when -host is given")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Console log level: debug, info, warn, error")
	flag.StringVar(&config.DTLSLogLevel, "dtls-log", "error", "Transport debug level: none, error, info, verbose")
	flag.StringVar(&config.EventLog, "event-log", "", "Write protocol events to this CBOR file")
	flag.BoolVar(&config.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	configFile := flag.String("config", "", "Configuration file path")
	flag.Parse()

	if flag.Arg(0) == "events" {
		if err := dumpEvents(flag.Arg(1)); err != nil {
			pterm.Error.Printfln("events: %v", err)
			os.Exit(1)
		}
		return
	}

	if *configFile != "" {
		if err := loadConfigFile(*configFile, &config); err != nil {
			pterm.Error.Printfln("config: %v", err)
			os.Exit(1)
		}
		// Flags override the file
		flag.Parse()
	}

	setupLogging(config.LogLevel)

	logger, closeLogger := buildProtocolLogger(config)
	defer closeLogger()

	svc := service.New(service.Config{
		Interface:      config.Interface,
		CommissionerID: config.CommissionerID,
		Logger:         logger,
		LogLevel:       parseDTLSLevel(config.DTLSLogLevel),
		ReadTimeout:    time.Duration(config.ReadTimeoutSec * float64(time.Second)),
	})
	defer svc.Close()

	if config.Interactive {
		runInteractive(svc)
		return
	}

	if err := runOnce(svc, config); err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
}

// loadConfigFile merges a YAML configuration file into cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// setupLogging configures the console slog handler.
func setupLogging(level string) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}

// buildProtocolLogger assembles the event pipeline: console in debug
// mode, a rotated CBOR file when configured.
func buildProtocolLogger(cfg Config) (log.Logger, func()) {
	var loggers []log.Logger

	if cfg.LogLevel == "debug" {
		loggers = append(loggers, log.NewSlogAdapter(slog.Default()))
	}

	var fileLogger *log.FileLogger
	if cfg.EventLog != "" {
		fileLogger = log.NewRotatingFileLogger(cfg.EventLog, 10, 3)
		loggers = append(loggers, fileLogger)
	}

	closer := func() {
		if fileLogger != nil {
			_ = fileLogger.Close()
		}
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closer
	case 1:
		return loggers[0], closer
	default:
		return log.NewMultiLogger(loggers...), closer
	}
}

// parseDTLSLevel maps the flag value to a transport log level.
func parseDTLSLevel(s string) log.Level {
	switch s {
	case "none":
		return log.LevelNone
	case "info":
		return log.LevelInfo
	case "verbose":
		return log.LevelVerbose
	default:
		return log.LevelError
	}
}

// runOnce performs one full commissioning flow: discover (or use -host),
// connect, fetch, print.
func runOnce(svc *service.Service, cfg Config) error {
	hub, err := resolveHub(svc, cfg)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Border router: %s", hub)

	code := cfg.AdminCode
	if code == "" {
		code, err = promptAdminCode()
		if err != nil {
			return err
		}
	}

	spinner, _ := pterm.DefaultSpinner.Start("Establishing secure session")
	if err := svc.ConnectToHub(*hub, code); err != nil {
		spinner.Fail("Handshake failed")
		return err
	}
	spinner.UpdateText("Requesting operational dataset")

	dataset, err := svc.GetThreadDataset()
	if err != nil {
		spinner.Fail("Dataset request failed")
		return err
	}
	spinner.Success("Dataset retrieved")

	renderDataset(dataset)
	return svc.Close()
}
