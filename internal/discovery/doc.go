// Package discovery finds an introducer for a networked node. A node
// either registers itself in etcd under a lease and joins through the
// oldest registration, or announces itself over mDNS and joins through
// the first other member it sees on the LAN.
package discovery
