// ABOUTME: Configuration for the wsdsp binaries
// ABOUTME: Defaults, optional TOML file, .env loading and WSDSP_* environment overrides
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	EnvPort      = "WSDSP_PORT"
	EnvName      = "WSDSP_NAME"
	EnvPath      = "WSDSP_PATH"
	EnvMDNS      = "WSDSP_MDNS"
	EnvRateLimit = "WSDSP_RATE_LIMIT"
	EnvBurst     = "WSDSP_BURST"
	EnvLogFile   = "WSDSP_LOG_FILE"
	EnvServer    = "WSDSP_SERVER"
	EnvTimeout   = "WSDSP_TIMEOUT"
	EnvCompress  = "WSDSP_COMPRESS"
)

// Server configures wsdsp-server.
type Server struct {
	Port            int
	Name            string
	Path            string
	MDNS            bool
	RateLimit       float64
	Burst           int
	MaxMessageBytes int64
	LogFile         string
}

// Client configures dspctl.
type Client struct {
	Server           string
	Path             string
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	Compress         bool
}

func DefaultServer() Server {
	return Server{
		Port:            8930,
		Name:            "wsdsp server",
		Path:            "/dsp",
		MDNS:            true,
		RateLimit:       32,
		Burst:           64,
		MaxMessageBytes: 16 << 20,
		LogFile:         "wsdsp-server.log",
	}
}

func DefaultClient() Client {
	return Client{
		Path:             "/dsp",
		Timeout:          10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

type serverFile struct {
	Port            int     `toml:"port"`
	Name            string  `toml:"name"`
	Path            string  `toml:"path"`
	MDNS            bool    `toml:"mdns"`
	RateLimit       float64 `toml:"rate_limit"`
	Burst           int     `toml:"burst"`
	MaxMessageBytes int64   `toml:"max_message_bytes"`
	LogFile         string  `toml:"log_file"`
}

type clientFile struct {
	Server           string `toml:"server"`
	Path             string `toml:"path"`
	Timeout          string `toml:"timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	Compress         bool   `toml:"compress"`
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadServer returns the defaults overlaid with path (when non-empty) and
// then the environment.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	if path != "" {
		var raw serverFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Server{}, fmt.Errorf("load server config: %w", err)
		}
		if meta.IsDefined("port") {
			cfg.Port = raw.Port
		}
		if meta.IsDefined("name") {
			if name := strings.TrimSpace(raw.Name); name != "" {
				cfg.Name = name
			}
		}
		if meta.IsDefined("path") {
			cfg.Path = normalizePath(raw.Path)
		}
		if meta.IsDefined("mdns") {
			cfg.MDNS = raw.MDNS
		}
		if meta.IsDefined("rate_limit") {
			cfg.RateLimit = raw.RateLimit
		}
		if meta.IsDefined("burst") {
			cfg.Burst = raw.Burst
		}
		if meta.IsDefined("max_message_bytes") {
			cfg.MaxMessageBytes = raw.MaxMessageBytes
		}
		if meta.IsDefined("log_file") {
			cfg.LogFile = strings.TrimSpace(raw.LogFile)
		}
	}

	if err := applyServerEnv(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// Validate reports settings the server cannot run with.
func (c Server) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		return fmt.Errorf("burst must be positive when rate limiting, got %d", c.Burst)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max message bytes must be positive, got %d", c.MaxMessageBytes)
	}
	return nil
}

// LoadClient returns the defaults overlaid with path (when non-empty) and
// then the environment.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	if path != "" {
		var raw clientFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Client{}, fmt.Errorf("load client config: %w", err)
		}
		if meta.IsDefined("server") {
			cfg.Server = strings.TrimSpace(raw.Server)
		}
		if meta.IsDefined("path") {
			cfg.Path = normalizePath(raw.Path)
		}
		if meta.IsDefined("timeout") {
			d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
			if err != nil {
				return Client{}, fmt.Errorf("parse timeout: %w", err)
			}
			cfg.Timeout = d
		}
		if meta.IsDefined("handshake_timeout") {
			d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
			if err != nil {
				return Client{}, fmt.Errorf("parse handshake_timeout: %w", err)
			}
			cfg.HandshakeTimeout = d
		}
		if meta.IsDefined("compress") {
			cfg.Compress = raw.Compress
		}
	}

	if err := applyClientEnv(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

// Validate reports settings no request could succeed with.
func (c Client) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake timeout must not be negative, got %v", c.HandshakeTimeout)
	}
	return nil
}

func applyServerEnv(cfg *Server) error {
	if v, ok := lookup(EnvPort); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		cfg.Port = n
	}
	if v, ok := lookup(EnvName); ok {
		cfg.Name = v
	}
	if v, ok := lookup(EnvPath); ok {
		cfg.Path = normalizePath(v)
	}
	if v, ok := lookup(EnvMDNS); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvMDNS, err)
		}
		cfg.MDNS = b
	}
	if v, ok := lookup(EnvRateLimit); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvRateLimit, err)
		}
		cfg.RateLimit = f
	}
	if v, ok := lookup(EnvBurst); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvBurst, err)
		}
		cfg.Burst = n
	}
	if v, ok := lookup(EnvLogFile); ok {
		cfg.LogFile = v
	}
	return nil
}

func applyClientEnv(cfg *Client) error {
	if v, ok := lookup(EnvServer); ok {
		cfg.Server = v
	}
	if v, ok := lookup(EnvPath); ok {
		cfg.Path = normalizePath(v)
	}
	if v, ok := lookup(EnvTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	if v, ok := lookup(EnvCompress); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvCompress, err)
		}
		cfg.Compress = b
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
