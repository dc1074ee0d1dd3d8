// Package address defines the fixed-size node address shared by the
// membership protocol, the hash ring and the key-value protocol.
package address

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// Size is the encoded length of an Address: 4 bytes of IPv4 host and
// 2 bytes of port, both in network byte order.
const Size = 6

// Address identifies a node.
type Address [Size]byte

// Zero is the unset address.
var Zero Address

// New builds an address from an IPv4 host and a port.
func New(ip net.IP, port uint16) (Address, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Zero, fmt.Errorf("address: %s is not an IPv4 address", ip)
	}
	var a Address
	copy(a[:4], v4)
	binary.BigEndian.PutUint16(a[4:], port)
	return a, nil
}

// FromID maps a simulation node id to an address. Id 1 becomes 0.0.0.1.
func FromID(id uint32, port uint16) Address {
	var a Address
	binary.BigEndian.PutUint32(a[:4], id)
	binary.BigEndian.PutUint16(a[4:], port)
	return a
}

// Parse parses "a.b.c.d:port".
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Zero, fmt.Errorf("address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Zero, fmt.Errorf("address: invalid port %q: %w", portStr, err)
	}
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Zero, fmt.Errorf("address: invalid host %q", host)
	}
	return New(ip, uint16(port))
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IP returns the host part.
func (a Address) IP() net.IP {
	return net.IPv4(a[0], a[1], a[2], a[3])
}

// Port returns the port part.
func (a Address) Port() uint16 {
	return binary.BigEndian.Uint16(a[4:])
}

// ID returns the host part as an integer, the inverse of FromID.
func (a Address) ID() uint32 {
	return binary.BigEndian.Uint32(a[:4])
}

// IsZero reports whether a is unset.
func (a Address) IsZero() bool {
	return a == Zero
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// String returns "a.b.c.d:port".
func (a Address) String() string {
	return net.JoinHostPort(a.IP().String(), strconv.Itoa(int(a.Port())))
}
