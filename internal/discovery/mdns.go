// ABOUTME: mDNS service discovery for the relay service
// ABOUTME: Handles both advertisement (serve) and browsing (discover)
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceType is the mDNS service type advertised by relay servers
const ServiceType = "_flacrelay._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	// Info is published as TXT records
	Info []string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	log    zerolog.Logger
	server *mdns.Server
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Info []string
}

// Addr returns host:port
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		log:    log.With().Str("component", "discovery").Logger(),
	}
}

// Advertise advertises this server via mDNS until Stop is called
func (m *Manager) Advertise() error {
	if m.server != nil {
		return fmt.Errorf("already advertising")
	}

	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.config.Info,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	m.log.Info().
		Str("name", m.config.ServiceName).
		Int("port", m.config.Port).
		Str("type", ServiceType).
		Msg("advertising mDNS service")
	return nil
}

// Stop stops advertising
func (m *Manager) Stop() {
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
}

// Browse queries for relay servers until timeout or ctx is done
func Browse(ctx context.Context, timeout time.Duration) ([]*ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []*ServerInfo, 1)

	go func() {
		var found []*ServerInfo
		seen := make(map[string]bool)
		for entry := range entries {
			info := toServerInfo(entry)
			if info == nil || seen[info.Name] {
				continue
			}
			seen[info.Name] = true
			log.Debug().Str("name", info.Name).Str("addr", info.Addr()).Msg("discovered server")
			found = append(found, info)
		}
		done <- found
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	found := <-done
	if err != nil {
		return found, fmt.Errorf("mdns query failed: %w", err)
	}
	return found, ctx.Err()
}

func toServerInfo(entry *mdns.ServiceEntry) *ServerInfo {
	if !strings.Contains(entry.Name, ServiceType) {
		return nil
	}
	host := entry.Host
	if entry.AddrV4 != nil {
		host = entry.AddrV4.String()
	}
	return &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: host,
		Port: entry.Port,
		Info: entry.InfoFields,
	}
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

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
