// Command flipper-agent is a reference device-side agent.
//
// The agent connects to the desktop tool, provisions a client certificate on
// first contact, and then maintains a mutually authenticated session with
// automatic reconnects.
//
// Usage:
//
//	flipper-agent [flags]
//
// Flags:
//
//	-config string       Configuration file path (YAML)
//	-host string         Desktop tool host (default "localhost")
//	-app string          Application package identifier
//	-device string       Device model name
//	-device-id string    Stable device identifier
//	-private-dir string  Private app directory holding credentials
//	-event-log string    Event log file path (CBOR)
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-mdns                Locate the desktop tool via mDNS when no host is set
//
// Examples:
//
//	# Connect to a desktop tool on localhost
//	flipper-agent -app com.example.app -private-dir /var/lib/example
//
//	# Find the desktop tool on the local network
//	flipper-agent -config /etc/flipper/agent.yaml -host "" -mdns
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/Danalla/flipper/pkg/agent"
	"github.com/Danalla/flipper/pkg/cred"
	"github.com/Danalla/flipper/pkg/discovery"
	"github.com/Danalla/flipper/pkg/log"
	"github.com/Danalla/flipper/pkg/transport"
)

// Config holds the agent configuration.
type Config struct {
	Host         string `yaml:"host"`
	SecurePort   int    `yaml:"secure_port"`
	InsecurePort int    `yaml:"insecure_port"`

	OS       string `yaml:"os"`
	Device   string `yaml:"device"`
	DeviceID string `yaml:"device_id"`
	App      string `yaml:"app"`

	PrivateDir string `yaml:"private_dir"`
	EventLog   string `yaml:"event_log"`
	LogLevel   string `yaml:"log_level"`
	MDNS       bool   `yaml:"mdns"`
}

var (
	config     Config
	configFile string
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&config.Host, "host", "localhost", "Desktop tool host")
	flag.IntVar(&config.SecurePort, "secure-port", agent.SecurePort, "Desktop secure port")
	flag.IntVar(&config.InsecurePort, "insecure-port", agent.InsecurePort, "Desktop insecure port")
	flag.StringVar(&config.OS, "os", runtime.GOOS, "Device operating system name")
	flag.StringVar(&config.Device, "device", "", "Device model name")
	flag.StringVar(&config.DeviceID, "device-id", "", "Stable device identifier")
	flag.StringVar(&config.App, "app", "", "Application package identifier")
	flag.StringVar(&config.PrivateDir, "private-dir", "", "Private app directory holding credentials")
	flag.StringVar(&config.EventLog, "event-log", "", "Event log file path (CBOR)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&config.MDNS, "mdns", false, "Locate the desktop tool via mDNS when no host is set")
}

func main() {
	flag.Parse()

	if configFile != "" {
		if err := applyConfigFile(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration file: %v\n", err)
			os.Exit(1)
		}
	}

	logger := newLogger(config.LogLevel)

	if err := validateConfig(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if config.Host == "" {
		host, err := findDesktop(logger)
		if err != nil {
			logger.Error("desktop lookup failed", "error", err)
			os.Exit(1)
		}
		config.Host = host
	}

	events, closeEvents, err := newEventLogger(logger)
	if err != nil {
		logger.Error("event log setup failed", "error", err)
		os.Exit(1)
	}
	defer closeEvents()

	store := cred.NewFileStore(config.PrivateDir)
	dialer := transport.NewDialer(transport.DialerConfig{Events: events})

	a, err := agent.NewAgent(agent.Config{
		Identity: agent.DeviceIdentity{
			Host:     config.Host,
			OS:       config.OS,
			Device:   config.Device,
			DeviceID: config.DeviceID,
			App:      config.App,
		},
		Store:        store,
		Dialer:       agent.NewDialer(dialer),
		Events:       events,
		SecurePort:   config.SecurePort,
		InsecurePort: config.InsecurePort,
	})
	if err != nil {
		logger.Error("agent setup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("starting agent",
		"host", config.Host,
		"app", config.App,
		"credentials", store.Dir())
	a.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())
	a.Stop()
}

// applyConfigFile loads YAML values for every option not set explicitly on
// the command line. Flags win over the file.
func applyConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fileConf Config
	if err := yaml.Unmarshal(data, &fileConf); err != nil {
		return err
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["host"] && fileConf.Host != "" {
		config.Host = fileConf.Host
	}
	if !set["secure-port"] && fileConf.SecurePort != 0 {
		config.SecurePort = fileConf.SecurePort
	}
	if !set["insecure-port"] && fileConf.InsecurePort != 0 {
		config.InsecurePort = fileConf.InsecurePort
	}
	if !set["os"] && fileConf.OS != "" {
		config.OS = fileConf.OS
	}
	if !set["device"] && fileConf.Device != "" {
		config.Device = fileConf.Device
	}
	if !set["device-id"] && fileConf.DeviceID != "" {
		config.DeviceID = fileConf.DeviceID
	}
	if !set["app"] && fileConf.App != "" {
		config.App = fileConf.App
	}
	if !set["private-dir"] && fileConf.PrivateDir != "" {
		config.PrivateDir = fileConf.PrivateDir
	}
	if !set["event-log"] && fileConf.EventLog != "" {
		config.EventLog = fileConf.EventLog
	}
	if !set["log-level"] && fileConf.LogLevel != "" {
		config.LogLevel = fileConf.LogLevel
	}
	if !set["mdns"] && fileConf.MDNS {
		config.MDNS = true
	}
	return nil
}

func validateConfig() error {
	if config.App == "" {
		return fmt.Errorf("app is required")
	}
	if config.PrivateDir == "" {
		return fmt.Errorf("private-dir is required")
	}
	if config.Host == "" && !config.MDNS {
		return fmt.Errorf("host is required unless -mdns is set")
	}
	return nil
}

// findDesktop browses the local network for the desktop tool.
func findDesktop(logger *slog.Logger) (string, error) {
	logger.Info("looking for desktop tool", "service", discovery.ServiceType)

	browser := discovery.NewBrowser(discovery.BrowserConfig{})
	desktop, err := browser.FindDesktop(context.Background())
	if err != nil {
		return "", err
	}

	logger.Info("found desktop tool",
		"instance", desktop.InstanceName,
		"host", desktop.Host(),
		"port", desktop.Port)
	return desktop.Host(), nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// newEventLogger builds the agent event sink: always mirrored to the service
// log, and appended to a CBOR file when one is configured.
func newEventLogger(logger *slog.Logger) (log.Logger, func(), error) {
	adapter := log.NewSlogAdapter(logger)
	if config.EventLog == "" {
		return adapter, func() {}, nil
	}

	file, err := log.NewFileLogger(config.EventLog)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := file.Close(); err != nil {
			logger.Warn("closing event log", "error", err)
		}
	}
	return log.Tee(file, adapter), closeFn, nil
}
