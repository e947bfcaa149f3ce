// Command relay-node drives relay outputs from OSC, HTTP and MQTT commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/relay-node/internal/config"
	"github.com/sweeney/relay-node/internal/logger"
	"github.com/sweeney/relay-node/internal/osc"
	"github.com/sweeney/relay-node/internal/relay"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// flags holds command-line overrides for the settings file.
type flags struct {
	configPath  string
	logLevel    string
	httpAddr    string
	oscAddr     string
	broker      string
	mode        string
	printConfig bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:          "relay-node",
		Short:        "Drive relay outputs from OSC, HTTP and MQTT commands",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			if f.printConfig {
				data, err := config.Marshal(cfg)
				if err != nil {
					return err
				}
				hostname, _ := hostnameFor(cfg)
				out := cmd.OutOrStdout()
				if _, err := out.Write(data); err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "# hostname: %s\n", hostname)
				return err
			}

			log, ok := logger.New(logger.Options{
				Level:      cfg.Logging.Level,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
				Compress:   cfg.Logging.Compress,
			})
			defer log.Sync()
			if !ok {
				log.Warnw("unknown log level, using info", "level", cfg.Logging.Level)
			}

			if err := run(cmd.Context(), cfg, log); err != nil {
				log.Errorw("fatal", "error", err)
				return err
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", fmt.Sprintf("path to settings file (default %s if present)", config.DefaultConfigFilename))
	fl.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fl.StringVar(&f.httpAddr, "http", "", `HTTP control address ("off" disables)`)
	fl.StringVar(&f.oscAddr, "osc", "", "OSC listen address")
	fl.StringVar(&f.broker, "broker", "", `MQTT broker URL ("off" disables)`)
	fl.StringVar(&f.mode, "mode", "", "pulse mode: non_blocking or blocking")
	fl.BoolVar(&f.printConfig, "print-config", false, "print the effective settings and exit")

	cmd.AddCommand(newSendCmd(), newVersionCmd())
	return cmd
}

// loadConfig reads the settings file and applies flags the user set.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if set("http") {
		cfg.HTTP.Listen = disabled(f.httpAddr)
	}
	if set("osc") {
		cfg.OSC.Listen = f.oscAddr
	}
	if set("broker") {
		cfg.MQTT.Broker = disabled(f.broker)
	}
	if set("mode") {
		cfg.Pulse.Mode = f.mode
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// hostnameFor derives the network hostname. When no hardware id can be
// found it returns the bare device name along with the error.
func hostnameFor(cfg *config.Config) (string, error) {
	hostname, err := cfg.ResolveHostname()
	if err != nil {
		return cfg.Device.Name, err
	}
	return hostname, nil
}

func disabled(v string) string {
	if v == "off" {
		return ""
	}
	return v
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <host[:port]> <address> [args...]",
		Short: "Send one OSC control message to a relay node",
		Example: "  relay-node send relay-3FA2C1.local /relay/trigger 2\n" +
			"  relay-node send 10.0.0.7:53000 /relay/activate 1",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, address := args[0], args[1]
			if len(address) < 2 || address[0] != '/' {
				return fmt.Errorf("address %q must start with /", address)
			}
			if err := osc.Send(host, address, osc.ParseArgs(args[2:])...); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// logStartup records the effective settings once the node is up.
func logStartup(log *zap.SugaredLogger, cfg *config.Config, hostname string, mode relay.Mode) {
	log.Infow("started",
		"hostname", hostname,
		"profile", cfg.Profile,
		"mode", mode,
		"channels", len(cfg.Relays.Channels),
		"tick", cfg.Tick,
		"trigger", cfg.Pulse.Trigger,
		"momentary", cfg.Pulse.Momentary,
		"osc", cfg.OSC.Listen,
		"http", cfg.HTTP.Listen,
		"broker", cfg.MQTT.Broker,
		"version", version,
	)
}
