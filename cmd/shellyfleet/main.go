package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alaub81/shelly/internal/config"
	"github.com/alaub81/shelly/internal/device"
	"github.com/alaub81/shelly/internal/errors"
	"github.com/alaub81/shelly/internal/executor"
	"github.com/alaub81/shelly/internal/filter"
	"github.com/alaub81/shelly/internal/inventory"
	"github.com/alaub81/shelly/internal/logging"
	"github.com/alaub81/shelly/internal/op"
	"github.com/alaub81/shelly/internal/output"
	"github.com/alaub81/shelly/internal/report"
	"github.com/alaub81/shelly/internal/rpc"

	"github.com/spf13/cobra"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global configuration
	cfg *config.Config

	// CLI flags
	deviceFile    string
	inventoryFile string
	filterExpr    string
	fleetUser     string
	fleetPassword string
	concurrency   string
	retries       int
	timeout       time.Duration
	totalTimeout  time.Duration
	outputMode    string
	sortKey       string
	quiet         bool
	dryRun        bool
	logLevel      string
	logFormat     string

	// Operation flags
	rebootAfter  bool
	debugHost    string
	debugPort    int
	mqttServer   string
	mqttUser     string
	mqttPassword string
	mqttPrefix   string
	mqttSSLCA    string
	mqttRPC      bool
	mqttControl  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// reportError writes the failure for the user and maps it to the
// process exit code. Cobra's own error printing is silenced, so this
// is the single reporting point.
func reportError(w io.Writer, err error) int {
	fmt.Fprintf(w, "Error: %v\n", err)
	return getExitCode(err)
}

var rootCmd = &cobra.Command{
	Use:   "shellyfleet <command>",
	Short: "Run RPC operations in parallel across a fleet of Shelly devices",
	Long: `shellyfleet is a CLI tool for managing fleets of Shelly smart devices
over their local HTTP RPC interface.

It can collect a status snapshot across the fleet, reboot devices, and
push configuration changes (UDP debug logging, MQTT broker settings),
all with bounded concurrency, per-device retries, and structured output.

Examples:
  # Status snapshot of all devices listed in shellies.txt
  shellyfleet status --file shellies.txt

  # Status sorted by WiFi signal, as NDJSON for automation
  shellyfleet status --sort wifi --output json

  # Reboot the garage group from an inventory file
  shellyfleet reboot --inventory fleet.yaml --filter tag:garage

  # Point every device's UDP debug log at a collector, then reboot
  shellyfleet set-debug --host 192.168.1.2 --port 5514 --reboot

  # Configure the MQTT broker with device auth
  shellyfleet set-mqtt --server broker.local:8883 --ssl-ca "*" --user admin --password secret`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		configManager := config.NewManager()
		loadedCfg, err := configManager.Load()
		if err != nil {
			return &PreconditionError{Message: fmt.Sprintf("failed to load configuration: %v", err)}
		}
		cfg = loadedCfg

		if err := overrideConfigWithFlags(cmd); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&deviceFile, "file", "shellies.txt", "Path to device list file (one address per line)")
	pf.StringVar(&inventoryFile, "inventory", "", "Load devices from YAML/JSON inventory file")
	pf.StringVar(&filterExpr, "filter", "", "Filter devices using expression (e.g., 'tag:garage addr:192.168.1.*')")
	pf.StringVar(&fleetUser, "user", "", "Device auth user (requires --password)")
	pf.StringVar(&fleetPassword, "password", "", "Device auth password (requires --user)")
	pf.StringVar(&concurrency, "concurrency", "auto", "Maximum concurrent device operations ('auto' or number)")
	pf.IntVar(&retries, "retries", 0, "Maximum retry attempts per device for transport failures")
	pf.DurationVar(&timeout, "timeout", 5*time.Second, "Per-call timeout")
	pf.DurationVar(&totalTimeout, "total-timeout", 0, "Fleet-wide deadline (0 for no deadline)")
	pf.StringVar(&outputMode, "output", "table", "Output format (table, json, plain)")
	pf.BoolVar(&quiet, "quiet", false, "Suppress non-error output")
	pf.BoolVar(&dryRun, "dry-run", false, "Show execution plan without contacting devices")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (info, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (json, text)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Collect a status snapshot from every device",
		Long: `Queries each device for system config, system status, WiFi status,
Bluetooth config, MQTT config, and installed scripts, and renders one
row per device with uptime, signal strength, and feature flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
	statusCmd.Flags().StringVar(&sortKey, "sort", "ip", "Sort key for status rows (ip, uptime, wifi)")
	rootCmd.AddCommand(statusCmd)

	rebootCmd := &cobra.Command{
		Use:   "reboot",
		Short: "Reboot every device in the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(op.Reboot{})
		},
	}
	rootCmd.AddCommand(rebootCmd)

	setDebugCmd := &cobra.Command{
		Use:   "set-debug",
		Short: "Point every device's UDP debug log at a collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debugHost == "" {
				return &PreconditionError{Message: "--host is required"}
			}
			if debugPort <= 0 || debugPort > 65535 {
				return &PreconditionError{Message: fmt.Sprintf("invalid --port %d: must be 1-65535", debugPort)}
			}
			operation := op.NewDebugPush(op.DebugConfig{
				Host: debugHost,
				Port: debugPort,
			}, rebootAfter)
			return runOperation(operation)
		},
	}
	setDebugCmd.Flags().StringVar(&debugHost, "host", "", "UDP debug collector host")
	setDebugCmd.Flags().IntVar(&debugPort, "port", 5514, "UDP debug collector port")
	setDebugCmd.Flags().BoolVar(&rebootAfter, "reboot", false, "Reboot each device after a successful config push")
	rootCmd.AddCommand(setDebugCmd)

	setMQTTCmd := &cobra.Command{
		Use:   "set-mqtt",
		Short: "Configure the MQTT broker connection on every device",
		Long: `Pushes MQTT broker settings to each device. The per-device client ID
and topic prefix are derived from the device address unless overridden.
Broker credentials are taken from --mqtt-user/--mqtt-password or the
SHELLYFLEET_MQTT_USER/SHELLYFLEET_MQTT_PASSWORD environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mqttServer == "" {
				return &PreconditionError{Message: "--server is required"}
			}
			user := mqttUser
			if user == "" {
				user = os.Getenv("SHELLYFLEET_MQTT_USER")
			}
			password := mqttPassword
			if password == "" {
				password = os.Getenv("SHELLYFLEET_MQTT_PASSWORD")
			}
			operation := op.NewMQTTPush(op.MQTTConfig{
				Server:        mqttServer,
				User:          user,
				Password:      password,
				TopicPrefix:   mqttPrefix,
				SSLCA:         mqttSSLCA,
				EnableRPC:     mqttRPC,
				EnableControl: mqttControl,
			}, rebootAfter)
			return runOperation(operation)
		},
	}
	setMQTTCmd.Flags().StringVar(&mqttServer, "server", "", "MQTT broker address (host:port)")
	setMQTTCmd.Flags().StringVar(&mqttUser, "mqtt-user", "", "MQTT broker user")
	setMQTTCmd.Flags().StringVar(&mqttPassword, "mqtt-password", "", "MQTT broker password")
	setMQTTCmd.Flags().StringVar(&mqttPrefix, "topic-prefix", "", "Topic prefix override (default 'shelly/<client-id>')")
	setMQTTCmd.Flags().StringVar(&mqttSSLCA, "ssl-ca", "", "TLS CA setting ('*' for any CA, empty to disable TLS)")
	setMQTTCmd.Flags().BoolVar(&mqttRPC, "enable-rpc", true, "Enable RPC over MQTT")
	setMQTTCmd.Flags().BoolVar(&mqttControl, "enable-control", true, "Enable component control over MQTT")
	setMQTTCmd.Flags().BoolVar(&rebootAfter, "reboot", false, "Reboot each device after a successful config push")
	rootCmd.AddCommand(setMQTTCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shellyfleet %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

func overrideConfigWithFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if flags.Changed("file") {
		cfg.File = deviceFile
	}
	if flags.Changed("inventory") {
		cfg.Inventory = inventoryFile
	}
	if flags.Changed("filter") {
		cfg.Filter = filterExpr
	}
	if flags.Changed("user") {
		cfg.User = fleetUser
	}
	if flags.Changed("password") {
		cfg.Password = fleetPassword
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if flags.Changed("retries") {
		cfg.Retries = retries
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("total-timeout") {
		cfg.TotalTimeout = totalTimeout
	}
	if flags.Changed("output") {
		cfg.Output = outputMode
	}
	if flags.Changed("sort") {
		cfg.Sort = sortKey
	}
	if flags.Changed("quiet") {
		cfg.Quiet = quiet
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = dryRun
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}

	configManager := config.NewManager()
	if err := configManager.Validate(cfg); err != nil {
		return &PreconditionError{Message: fmt.Sprintf("configuration validation failed: %v", err)}
	}

	return nil
}

// loadAndFilterDevices loads devices from the inventory or list file and
// applies any filter expression.
func loadAndFilterDevices(logger *logging.Logger) ([]device.Device, error) {
	var devices []device.Device
	var err error
	var source string

	if cfg.Inventory != "" {
		source = fmt.Sprintf("inventory file: %s", cfg.Inventory)
		inv, invErr := inventory.LoadFromFile(cfg.Inventory)
		if invErr != nil {
			logger.LogDeviceListError(source, invErr)
			return nil, &PreconditionError{Message: fmt.Sprintf("failed to load inventory: %v", invErr)}
		}
		devices, err = inv.LoadDevices()
		if err != nil {
			logger.LogDeviceListError(source, err)
			return nil, &PreconditionError{Message: fmt.Sprintf("failed to load inventory devices: %v", err)}
		}
	} else {
		source = fmt.Sprintf("device list: %s", cfg.File)
		loader := device.NewLoader()
		devices, err = loader.LoadFile(cfg.File)
		if err != nil {
			logger.LogDeviceListError(source, err)
			return nil, &PreconditionError{Message: fmt.Sprintf("failed to load device list: %v", err)}
		}
	}

	// Fleet-wide credentials apply to devices without their own
	if cfg.User != "" {
		creds, credErr := device.NewCredentials(cfg.User, cfg.Password)
		if credErr != nil {
			return nil, &PreconditionError{Message: credErr.Error()}
		}
		devices = device.WithCredentials(devices, creds)
	}

	if cfg.Filter != "" {
		filters, filterErr := filter.ParseFilterExpression(cfg.Filter)
		if filterErr != nil {
			return nil, &PreconditionError{Message: fmt.Sprintf("failed to parse filter expression: %v", filterErr)}
		}
		originalCount := len(devices)
		devices = filter.FilterDevices(devices, filters...)
		logger.Info("Applied filters", "original_count", originalCount, "filtered_count", len(devices), "filter", cfg.Filter)
	}

	if len(devices) == 0 {
		logger.LogDeviceListError(source, fmt.Errorf("no devices selected"))
		return nil, &PreconditionError{Message: "no devices selected"}
	}

	logger.LogDeviceListLoad(source, len(devices))

	return devices, nil
}

func runStatus() error {
	return runStatusInternal(os.Stdout)
}

func runStatusInternal(writer io.Writer) error {
	logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)
	logger.LogConfigLoad("CLI flags and configuration files")

	devices, err := loadAndFilterDevices(logger)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		return performDryRun(devices, op.StatusSnapshot{}, writer)
	}

	results, err := runFleet(devices, op.StatusSnapshot{}, logger)
	if err != nil {
		return err
	}

	rep := report.Build(results, report.SortKey(cfg.Sort))

	formatter := output.NewFormatter(output.Mode(cfg.Output), writer)
	if err := formatter.FormatStatus(rep); err != nil {
		logger.Error("Failed to format output", "error", err)
	}

	// Unreachable devices are report content here, not a failure of the
	// snapshot itself
	if rep.Failed > 0 {
		collector := collectFailures(results)
		logger.Info("Snapshot complete with unreachable devices",
			"unreachable", rep.Failed,
			"total", len(results),
			"error_summary", collector.Summary(),
			"transport_errors", collector.CountByType(errors.TransportErrorType),
			"http_errors", collector.CountByType(errors.HTTPErrorType))
	}
	return nil
}

func runOperation(operation op.Operation) error {
	return runOperationInternal(operation, os.Stdout)
}

func runOperationInternal(operation op.Operation, writer io.Writer) error {
	logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)
	logger.LogConfigLoad("CLI flags and configuration files")

	devices, err := loadAndFilterDevices(logger)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		return performDryRun(devices, operation, writer)
	}

	results, err := runFleet(devices, operation, logger)
	if err != nil {
		return err
	}

	rep := report.Build(results, report.SortByAddress)

	formatter := output.NewFormatter(output.Mode(cfg.Output), writer)
	if err := formatter.FormatOperation(rep); err != nil {
		logger.Error("Failed to format output", "error", err)
	}

	if rep.ExitCode() != 0 {
		collector := collectFailures(results)
		logger.Error("Fleet operation failed on some devices",
			"operation", operation.Name(),
			"failed", rep.Failed,
			"total", len(results),
			"error_summary", collector.Summary(),
			"transport_errors", collector.CountByType(errors.TransportErrorType),
			"http_errors", collector.CountByType(errors.HTTPErrorType))
		return &FleetError{Message: fmt.Sprintf("%s failed on %d/%d devices (%s)", operation.Name(), rep.Failed, len(results), collector.Summary())}
	}
	return nil
}

// collectFailures classifies every failed facet outcome across the
// fleet for the completion log and the final error message
func collectFailures(results []op.Result) *errors.ErrorCollector {
	collector := errors.NewErrorCollector()
	for _, result := range results {
		for _, outcome := range result.Failures() {
			collector.Add(outcome.Err())
		}
	}
	return collector
}

// runFleet applies an operation to every device with bounded concurrency
// and signal-driven cancellation.
func runFleet(devices []device.Device, operation op.Operation, logger *logging.Logger) ([]op.Result, error) {
	concurrencyValue, err := resolveConcurrency(cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	exec := executor.NewExecutorWithLogger(executor.Config{
		Concurrency:  concurrencyValue,
		Retries:      cfg.Retries,
		TotalTimeout: cfg.TotalTimeout,
	}, logger)

	client := rpc.NewClientWithLogger(cfg.Timeout, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal, canceling operations", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return exec.Run(ctx, devices, operation, client), nil
}

// resolveConcurrency maps the configured string to the executor's value,
// where 0 means auto.
func resolveConcurrency(configured string) (int, error) {
	if configured == "auto" {
		return 0, nil
	}
	value, err := strconv.Atoi(configured)
	if err != nil || value <= 0 {
		return 0, &PreconditionError{Message: fmt.Sprintf("invalid concurrency value '%s': must be 'auto' or a positive integer", configured)}
	}
	return value, nil
}

func performDryRun(devices []device.Device, operation op.Operation, writer io.Writer) error {
	fmt.Fprintln(writer, "shellyfleet Dry Run - Execution Plan")
	fmt.Fprintln(writer, "====================================")
	fmt.Fprintln(writer)

	fmt.Fprintln(writer, "Configuration:")
	fmt.Fprintf(writer, "  Operation: %s\n", operation.Name())
	fmt.Fprintf(writer, "  Total Devices: %d\n", len(devices))
	fmt.Fprintf(writer, "  Concurrency Setting: %s\n", cfg.Concurrency)
	fmt.Fprintf(writer, "  Max Retries: %d\n", cfg.Retries)
	fmt.Fprintf(writer, "  Call Timeout: %v\n", cfg.Timeout)
	if cfg.TotalTimeout > 0 {
		fmt.Fprintf(writer, "  Total Timeout: %v\n", cfg.TotalTimeout)
	} else {
		fmt.Fprintf(writer, "  Total Timeout: unlimited\n")
	}
	fmt.Fprintf(writer, "  Output Format: %s\n", cfg.Output)
	fmt.Fprintln(writer)

	fmt.Fprintf(writer, "Device Details:\n")
	for i, dev := range devices {
		fmt.Fprintf(writer, "  %d. %s\n", i+1, dev.Address)
		if dev.Credentials != nil {
			fmt.Fprintf(writer, "     → Authentication: basic auth as %s\n", dev.Credentials.User)
		} else {
			fmt.Fprintf(writer, "     → Authentication: none\n")
		}
		if len(dev.Tags) > 0 {
			fmt.Fprintf(writer, "     → Tags: %v\n", dev.Tags)
		}
	}
	fmt.Fprintln(writer)

	fmt.Fprintf(writer, "Note: This is a dry run. No devices will be contacted.\n")
	fmt.Fprintf(writer, "To execute for real, remove the --dry-run flag.\n")

	return nil
}

// PreconditionError represents a setup failure before any device was
// contacted (exit code 1)
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// FleetError represents one or more device failures during execution
// (exit code 2)
type FleetError struct {
	Message string
}

func (e *FleetError) Error() string {
	return e.Message
}

// getExitCode determines the appropriate exit code based on error type
// Returns:
//   - 0: Success (all devices succeeded)
//   - 1: Precondition failure (empty device list, invalid arguments)
//   - 2: Partial failure (one or more devices failed)
func getExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch err.(type) {
	case *PreconditionError:
		return 1
	case *FleetError:
		return 2
	default:
		// Unknown errors are treated as precondition failures
		return 1
	}
}
