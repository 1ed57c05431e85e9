// ABOUTME: Tests for mDNS discovery
// ABOUTME: Manager lifecycle, TXT records and service entry conversion
package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	config := Config{
		Instance: "bench",
		Port:     8930,
		Path:     "/dsp",
	}

	manager := NewManager(config)
	defer manager.Stop()

	if manager.config.Instance != "bench" {
		t.Errorf("expected instance 'bench', got %q", manager.config.Instance)
	}
	if manager.Servers() == nil {
		t.Error("servers channel should not be nil")
	}
}

func TestManagerStop(t *testing.T) {
	manager := NewManager(Config{Instance: "test", Port: 8930})
	manager.Stop()

	select {
	case <-manager.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("context should be cancelled after Stop()")
	}
}

func TestLookupAfterStop(t *testing.T) {
	manager := NewManager(Config{})
	manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := manager.Lookup(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/dsp", "path=/dsp"},
		{"", "path=/"},
	}
	for _, tt := range tests {
		got := txtRecords(tt.path)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("txtRecords(%q) = %v, want [%s]", tt.path, got, tt.want)
		}
	}
}

func TestServerInfoFrom(t *testing.T) {
	tests := []struct {
		name     string
		entry    *mdns.ServiceEntry
		wantAddr string
		wantPath string
		wantNil  bool
	}{
		{
			name:     "ipv4 with path",
			entry:    &mdns.ServiceEntry{Name: "a", AddrV4: net.IPv4(192, 168, 1, 20), Port: 8930, InfoFields: []string{"path=/dsp"}},
			wantAddr: "192.168.1.20:8930",
			wantPath: "/dsp",
		},
		{
			name:     "ipv6 without txt",
			entry:    &mdns.ServiceEntry{Name: "b", AddrV6: net.ParseIP("fe80::1"), Port: 9000},
			wantAddr: "[fe80::1]:9000",
			wantPath: "/",
		},
		{
			name:     "host fallback",
			entry:    &mdns.ServiceEntry{Name: "c", Host: "dsp.local.", Port: 1},
			wantAddr: "dsp.local:1",
			wantPath: "/",
		},
		{
			name:    "no address",
			entry:   &mdns.ServiceEntry{Name: "d", Port: 1},
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := serverInfoFrom(tt.entry)
			if tt.wantNil {
				if info != nil {
					t.Fatalf("expected nil, got %+v", info)
				}
				return
			}
			if info == nil {
				t.Fatal("expected server info")
			}
			if info.Addr() != tt.wantAddr {
				t.Errorf("expected addr %s, got %s", tt.wantAddr, info.Addr())
			}
			if info.Path != tt.wantPath {
				t.Errorf("expected path %s, got %s", tt.wantPath, info.Path)
			}
		})
	}
}

func TestGetLocalIPs(t *testing.T) {
	ips, err := getLocalIPs()
	if err != nil {
		t.Fatalf("getLocalIPs failed: %v", err)
	}
	if ips == nil {
		t.Error("getLocalIPs returned nil slice")
	}
	for _, ip := range ips {
		if ip.To4() == nil || ip.IsLoopback() {
			t.Errorf("unexpected address: %v", ip)
		}
	}
}
