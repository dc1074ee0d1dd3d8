package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"ringkv/internal/address"
)

const (
	mdnsService = "_ringkv._tcp"
	mdnsDomain  = "local."
)

// MDNS announces the local node on the LAN and browses for other members.
type MDNS struct {
	id     string
	self   address.Address
	server *zeroconf.Server
	log    *zap.Logger
}

// Announce registers self as an mDNS service instance with a random
// instance id.
func Announce(self address.Address, log *zap.Logger) (*MDNS, error) {
	id := uuid.NewString()
	server, err := zeroconf.Register(id, mdnsService, mdnsDomain, int(self.Port()), txtRecords(id, self), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	log.Info("announced over mdns", zap.String("instance", id), zap.String("service", mdnsService))
	return &MDNS{id: id, self: self, server: server, log: log}, nil
}

func txtRecords(id string, self address.Address) []string {
	return []string{"id=" + id, "addr=" + self.String()}
}

// Introducer browses until another member shows up or ctx is done.
func (m *MDNS) Introducer(ctx context.Context) (address.Address, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return address.Zero, fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, mdnsService, mdnsDomain, entries); err != nil {
		return address.Zero, fmt.Errorf("discovery: browse: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return address.Zero, ErrNoIntroducer
		case entry, ok := <-entries:
			if !ok {
				return address.Zero, ErrNoIntroducer
			}
			if m.isSelf(entry) {
				continue
			}
			a, ok := entryAddress(entry)
			if !ok {
				m.log.Debug("ignoring mdns entry", zap.String("instance", entry.Instance))
				continue
			}
			return a, nil
		}
	}
}

func (m *MDNS) isSelf(entry *zeroconf.ServiceEntry) bool {
	return slices.Contains(entry.Text, "id="+m.id)
}

// entryAddress prefers the advertised protocol address and falls back to
// the first IPv4 address of the entry.
func entryAddress(entry *zeroconf.ServiceEntry) (address.Address, bool) {
	for _, txt := range entry.Text {
		s, ok := strings.CutPrefix(txt, "addr=")
		if !ok {
			continue
		}
		if a, err := address.Parse(s); err == nil && !a.IP().IsUnspecified() {
			return a, true
		}
	}
	for _, ip := range entry.AddrIPv4 {
		if a, err := address.New(ip, uint16(entry.Port)); err == nil {
			return a, true
		}
	}
	return address.Zero, false
}

// Shutdown withdraws the announcement.
func (m *MDNS) Shutdown() {
	if m == nil {
		return
	}
	m.server.Shutdown()
}
