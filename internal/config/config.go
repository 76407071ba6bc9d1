// Package config loads the client's configuration from an optional JSON
// file plus command-line flag overrides, in the config-file-plus-flag-
// overlay style used by the xtaci/kcptun family of tools in the retrieval
// pack: JSON fields are applied first, then any flag explicitly set on the
// command line wins.
package config

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/pkg/errors"
)

// Config holds every external input the core (spec.md §6) needs.
type Config struct {
	UDPUpstreamHost string `json:"udp_upstream_host"`
	UDPUpstreamPort uint16 `json:"udp_upstream_port"`

	ListenIP   string `json:"listen_ip"`
	ListenPort uint16 `json:"listen_port"`

	TCPReadTimeoutS  int32 `json:"tcp_read_timeout_s"`
	TCPWriteTimeoutS int32 `json:"tcp_write_timeout_s"`

	LogLevel string `json:"log_level"`
}

// Default returns a Config with the teacher's defaults: loopback listener,
// nodelay-friendly timeouts, info-level logging.
func Default() Config {
	return Config{
		ListenIP:         "127.0.0.1",
		ListenPort:       7000,
		TCPReadTimeoutS:  0,
		TCPWriteTimeoutS: 0,
		LogLevel:         "info",
	}
}

// Load parses flags from args (typically os.Args[1:]) into a Config seeded
// from Default() and optionally overlaid by a -config JSON file.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("rdpclient", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to an optional JSON config file")
	upstreamHost := fs.String("upstream-host", "", "DNS name or IPv4 of the UDP peer")
	upstreamPort := fs.Uint("upstream-port", 0, "UDP peer port")
	listenIP := fs.String("listen-ip", "", "local TCP bind address")
	listenPort := fs.Uint("listen-port", 0, "local TCP bind port")
	readTimeout := fs.Int("tcp-read-timeout", 0, "TCP read timeout in seconds, <=0 disables")
	writeTimeout := fs.Int("tcp-write-timeout", 0, "TCP write timeout in seconds, <=0 disables")
	logLevel := fs.String("log-level", "", "info or debug")

	if err := fs.Parse(args); err != nil {
		return Config{}, errors.Wrap(err, "config: parsing flags")
	}

	if *configPath != "" {
		if err := overlayJSONFile(&cfg, *configPath); err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "upstream-host":
			cfg.UDPUpstreamHost = *upstreamHost
		case "upstream-port":
			cfg.UDPUpstreamPort = uint16(*upstreamPort)
		case "listen-ip":
			cfg.ListenIP = *listenIP
		case "listen-port":
			cfg.ListenPort = uint16(*listenPort)
		case "tcp-read-timeout":
			cfg.TCPReadTimeoutS = int32(*readTimeout)
		case "tcp-write-timeout":
			cfg.TCPWriteTimeoutS = int32(*writeTimeout)
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	return cfg, cfg.Validate()
}

func overlayJSONFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "config: opening %s", path)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return errors.Wrapf(err, "config: decoding %s", path)
	}
	return nil
}

// Validate reports whether the config has enough information to start.
func (c Config) Validate() error {
	if c.UDPUpstreamHost == "" {
		return errors.New("config: udp_upstream_host is required")
	}
	if c.UDPUpstreamPort == 0 {
		return errors.New("config: udp_upstream_port is required")
	}
	return nil
}
