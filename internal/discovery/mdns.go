// ABOUTME: mDNS service discovery for wsdsp servers
// ABOUTME: Servers advertise _wsdsp._tcp with their endpoint path, clients browse for them
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceType is the mDNS service advertised by wsdsp servers.
const ServiceType = "_wsdsp._tcp"

const queryTimeout = 3 * time.Second

var ErrNotFound = errors.New("discovery: no wsdsp server found")

// Config holds discovery configuration
type Config struct {
	Instance string
	Port     int
	Path     string
	Logger   *zerolog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo

	mu     sync.Mutex
	server *mdns.Server
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port.
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Manager{
		config:  config,
		logger:  logger.With().Str("component", "discovery").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces this server until Stop is called.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.Instance,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.Path),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	m.logger.Info().
		Str("instance", m.config.Instance).
		Int("port", m.config.Port).
		Str("type", ServiceType).
		Msg("advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		_ = server.Shutdown()
	}()

	return nil
}

// Browse repeatedly queries for servers and publishes them on Servers().
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				info := serverInfoFrom(entry)
				if info == nil {
					continue
				}
				m.logger.Debug().Str("name", info.Name).Str("addr", info.Addr()).Msg("discovered server")

				select {
				case m.servers <- info:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Timeout = queryTimeout
		params.Entries = entries
		if err := mdns.Query(params); err != nil {
			m.logger.Warn().Err(err).Msg("mDNS query failed")
		}
		close(entries)
		<-done

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Lookup browses until the first server is found or ctx ends.
func (m *Manager) Lookup(ctx context.Context) (*ServerInfo, error) {
	m.Browse()
	select {
	case info := <-m.servers:
		return info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotFound, ctx.Err())
	case <-m.ctx.Done():
		return nil, ErrNotFound
	}
}

// Stop ends advertisement and browsing.
func (m *Manager) Stop() {
	m.cancel()
}

func txtRecords(path string) []string {
	if path == "" {
		path = "/"
	}
	return []string{"path=" + path}
}

func serverInfoFrom(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil {
		return nil
	}
	info := &ServerInfo{Name: entry.Name, Port: entry.Port, Path: "/"}

	switch {
	case entry.AddrV4 != nil:
		info.Host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		info.Host = entry.AddrV6.String()
	default:
		info.Host = strings.TrimSuffix(entry.Host, ".")
	}
	if info.Host == "" {
		return nil
	}

	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			info.Path = v
		}
	}
	return info
}

// getLocalIPs returns the non-loopback IPv4 addresses of the up interfaces.
func getLocalIPs() ([]net.IP, error) {
	ips := []net.IP{}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
