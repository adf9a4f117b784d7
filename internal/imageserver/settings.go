package imageserver

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/qcview/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the port figure URLs use unless configured otherwise.
	DefaultPort = 8050
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes; carpet plots can be large.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Environment overrides.
const (
	EnvEnabled = "QCVIEW_SERVER_ENABLED"
	EnvHost    = "QCVIEW_SERVER_HOST"
	EnvPort    = "QCVIEW_SERVER_PORT"
)

// Settings captures runtime configuration for the image server.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Overrides is one layer of server settings. Nil fields leave the layer
// below untouched.
type Overrides struct {
	Enabled *bool
	Host    *string
	Port    *int
}

// ResolveSettings layers defaults, config.yaml, the QCVIEW_SERVER_* variables
// and finally flags, in that order. Malformed environment values are skipped;
// a flag port outside 0-65535 is an error.
func ResolveSettings(cfg *config.Config, flags Overrides) (Settings, error) {
	settings := Settings{
		Enabled:      true,
		Host:         DefaultHost,
		Port:         DefaultPort,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
	if flags.Port != nil && !portInRange(*flags.Port) {
		return Settings{}, fmt.Errorf("imageserver: port %d out of range", *flags.Port)
	}
	settings.apply(fromConfig(cfg))
	settings.apply(fromEnv())
	settings.apply(flags)
	settings.normalize()
	return settings, nil
}

func fromConfig(cfg *config.Config) Overrides {
	if cfg == nil {
		return Overrides{}
	}
	enabled := cfg.ServerEnabled()
	o := Overrides{Enabled: &enabled}
	raw := cfg.Project.Server
	if host := strings.TrimSpace(raw.Host); host != "" {
		o.Host = &host
	}
	if raw.Port > 0 && portInRange(raw.Port) {
		port := raw.Port
		o.Port = &port
	}
	return o
}

func fromEnv() Overrides {
	var o Overrides
	if value := strings.TrimSpace(os.Getenv(EnvEnabled)); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			o.Enabled = &enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv(EnvHost)); host != "" {
		o.Host = &host
	}
	if value := strings.TrimSpace(os.Getenv(EnvPort)); value != "" {
		if port, err := strconv.Atoi(value); err == nil && port > 0 && portInRange(port) {
			o.Port = &port
		}
	}
	return o
}

func (s *Settings) apply(o Overrides) {
	if o.Enabled != nil {
		s.Enabled = *o.Enabled
	}
	if o.Host != nil {
		s.Host = *o.Host
	}
	if o.Port != nil {
		s.Port = *o.Port
	}
}

// normalize fills zero values. Port 0 is kept so callers can bind an
// ephemeral port.
func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if !portInRange(s.Port) {
		s.Port = DefaultPort
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func portInRange(port int) bool {
	return port >= 0 && port <= 65535
}
