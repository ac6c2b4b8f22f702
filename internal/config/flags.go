package config

import "flag"

var (
	flagConfig = flag.String("config", "", "Path to config file")
	flagDebug  = flag.Bool("debug", false, "Enable debug logging")
	flagPort   = flag.Int("port", 0, "Server listen port")
	flagServer = flag.String("server", "", "Sandbox host address (host:port)")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagPort > 0 {
		cfg.Server.Port = *flagPort
	}
	if *flagServer != "" {
		cfg.Client.Server = *flagServer
	}
}
