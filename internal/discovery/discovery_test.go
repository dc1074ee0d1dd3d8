package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"

	"ringkv/internal/address"
)

func TestNodeKey(t *testing.T) {
	got := nodeKey(address.MustParse("10.0.0.7:7946"))
	if want := "/ringkv/nodes/10.0.0.7:7946"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestEntryAddress(t *testing.T) {
	tests := []struct {
		name string
		text []string
		ipv4 []net.IP
		port int
		want address.Address
		ok   bool
	}{
		{
			name: "advertised address",
			text: txtRecords("a", address.MustParse("10.0.0.1:7000")),
			ipv4: []net.IP{net.ParseIP("192.168.1.5")},
			port: 7000,
			want: address.MustParse("10.0.0.1:7000"),
			ok:   true,
		},
		{
			name: "unspecified host falls back to entry ip",
			text: []string{"id=a", "addr=0.0.0.0:7000"},
			ipv4: []net.IP{net.ParseIP("192.168.1.5")},
			port: 7000,
			want: address.MustParse("192.168.1.5:7000"),
			ok:   true,
		},
		{
			name: "no txt",
			ipv4: []net.IP{net.ParseIP("192.168.1.6")},
			port: 7001,
			want: address.MustParse("192.168.1.6:7001"),
			ok:   true,
		},
		{
			name: "nothing usable",
			text: []string{"id=a", "addr=garbage"},
			port: 7000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := zeroconf.NewServiceEntry("a", mdnsService, mdnsDomain)
			entry.Text = tt.text
			entry.AddrIPv4 = tt.ipv4
			entry.Port = tt.port

			got, ok := entryAddress(entry)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMDNS_IsSelf(t *testing.T) {
	m := &MDNS{id: "me"}
	own := zeroconf.NewServiceEntry("me", mdnsService, mdnsDomain)
	own.Text = txtRecords("me", address.FromID(1, 0))
	other := zeroconf.NewServiceEntry("you", mdnsService, mdnsDomain)
	other.Text = txtRecords("you", address.FromID(2, 0))

	if !m.isSelf(own) {
		t.Error("Expected own entry to be recognised")
	}
	if m.isSelf(other) {
		t.Error("Expected other entry not to be recognised as self")
	}
}
