package replication

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"ringkv/internal/address"
	"ringkv/internal/ring"
)

var ErrMalformedMessage = errors.New("ringkv: malformed kv message")

// delimiter separates message fields. Key and value are query-escaped,
// so it never appears inside them.
const delimiter = "::"

const fieldCount = 7

// MessageType is the operation carried by a message.
type MessageType uint8

const (
	Create MessageType = iota
	Read
	Update
	Delete
	Reply
	ReadReply
)

var messageTypeNames = [...]string{
	Create:    "CREATE",
	Read:      "READ",
	Update:    "UPDATE",
	Delete:    "DELETE",
	Reply:     "REPLY",
	ReadReply: "READREPLY",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// IsRequest reports whether t is sent by a coordinator to a replica.
func (t MessageType) IsRequest() bool {
	return t <= Delete
}

// ReplicaRole is a replica's position in a key's replica set.
type ReplicaRole uint8

const (
	Primary ReplicaRole = iota
	Secondary
	Tertiary
)

var roleNames = [...]string{
	Primary:   "PRIMARY",
	Secondary: "SECONDARY",
	Tertiary:  "TERTIARY",
}

func (r ReplicaRole) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("ReplicaRole(%d)", uint8(r))
}

// Message is one key-value protocol message.
type Message struct {
	TransID int64
	From    address.Address
	Type    MessageType
	Key     string
	Value   string
	Role    ReplicaRole
	Success bool
}

// Encode renders the message as delimited text.
func (m Message) Encode() []byte {
	success := "0"
	if m.Success {
		success = "1"
	}
	fields := []string{
		strconv.FormatInt(m.TransID, 10),
		m.From.String(),
		m.Type.String(),
		url.QueryEscape(m.Key),
		url.QueryEscape(m.Value),
		m.Role.String(),
		success,
	}
	return []byte(strings.Join(fields, delimiter))
}

// DecodeMessage parses the output of Encode.
func DecodeMessage(data []byte) (Message, error) {
	fields := strings.Split(string(data), delimiter)
	if len(fields) != fieldCount {
		return Message{}, fmt.Errorf("%w: %d fields", ErrMalformedMessage, len(fields))
	}

	var m Message
	var err error
	if m.TransID, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return Message{}, fmt.Errorf("%w: transaction id: %v", ErrMalformedMessage, err)
	}
	if m.From, err = address.Parse(fields[1]); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Type, err = parseName[MessageType](fields[2], messageTypeNames[:]); err != nil {
		return Message{}, err
	}
	if m.Key, err = url.QueryUnescape(fields[3]); err != nil {
		return Message{}, fmt.Errorf("%w: key: %v", ErrMalformedMessage, err)
	}
	if m.Value, err = url.QueryUnescape(fields[4]); err != nil {
		return Message{}, fmt.Errorf("%w: value: %v", ErrMalformedMessage, err)
	}
	if m.Role, err = parseName[ReplicaRole](fields[5], roleNames[:]); err != nil {
		return Message{}, err
	}

	switch fields[6] {
	case "1":
		m.Success = true
	case "0":
	default:
		return Message{}, fmt.Errorf("%w: success flag %q", ErrMalformedMessage, fields[6])
	}
	return m, nil
}

func parseName[T ~uint8](s string, names []string) (T, error) {
	for i, n := range names {
		if n == s {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown name %q", ErrMalformedMessage, s)
}

// ReplicasForKey returns the addresses of key's replicas in role order,
// or nil when the ring is too small to place it.
func ReplicasForKey(r *ring.Ring, key string) []address.Address {
	nodes := r.PreferenceList(key)
	if len(nodes) == 0 {
		return nil
	}
	out := make([]address.Address, len(nodes))
	for i, n := range nodes {
		out[i] = n.Addr
	}
	return out
}
