package gossip

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ringkv/internal/address"
)

var (
	ErrShortMessage    = errors.New("ringkv: short gossip message")
	ErrUnknownType     = errors.New("ringkv: unknown gossip message type")
	ErrMessageTooLarge = errors.New("ringkv: gossip message exceeds size limit")
)

// MsgType is the first byte of every membership message.
type MsgType uint8

const (
	JoinReq MsgType = iota
	JoinRep
	Ping
	Pong
	IPing
	IPong
	PgyPing
	PgyPong
	IPgyPing
	IPgyPong
	Leave
)

var msgTypeNames = [...]string{
	JoinReq:  "JOINREQ",
	JoinRep:  "JOINREP",
	Ping:     "PING",
	Pong:     "PONG",
	IPing:    "IPING",
	IPong:    "IPONG",
	PgyPing:  "PGYPING",
	PgyPong:  "PGYPONG",
	IPgyPing: "IPGYPING",
	IPgyPong: "IPGYPONG",
	Leave:    "LEAVE",
}

func (t MsgType) String() string {
	if int(t) < len(msgTypeNames) {
		return msgTypeNames[t]
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

func (t MsgType) valid() bool {
	return t <= Leave
}

// Indirect reports whether messages of this type carry a relay target.
func (t MsgType) Indirect() bool {
	switch t {
	case IPing, IPong, IPgyPing, IPgyPong:
		return true
	}
	return false
}

// Piggyback reports whether messages of this type carry a gossip payload.
func (t MsgType) Piggyback() bool {
	switch t {
	case JoinRep, PgyPing, PgyPong, IPgyPing, IPgyPong:
		return true
	}
	return false
}

// Wire sizes in bytes.
const (
	RecordSize = address.Size + 8 + 1
	HeaderSize = 1 + RecordSize
	countSize  = 4
)

// Record is the gossiped form of a peer.
type Record struct {
	Addr      address.Address
	Heartbeat int64
	Status    MemberStatus
}

// Message is a decoded membership message.
type Message struct {
	Type MsgType
	// Sender is the sender's own record.
	Sender Record
	// Indirect is the relay target or requester, set only for indirect types.
	Indirect address.Address
	Records  []Record
}

// PayloadCapacity returns how many records fit in a message of type t
// limited to maxSize bytes.
func PayloadCapacity(t MsgType, maxSize int) int {
	free := maxSize - HeaderSize - countSize
	if t.Indirect() {
		free -= address.Size
	}
	if free < 0 {
		return 0
	}
	return free / RecordSize
}

// Size returns the encoded length of m.
func (m *Message) Size() int {
	n := HeaderSize
	if m.Type.Indirect() {
		n += address.Size
	}
	if m.Type.Piggyback() {
		n += countSize + len(m.Records)*RecordSize
	}
	return n
}

// Encode serializes m into a new buffer of at most maxSize bytes.
func (m *Message) Encode(maxSize int) ([]byte, error) {
	if !m.Type.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, m.Type)
	}
	size := m.Size()
	if size > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, maxSize)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(m.Type))
	buf = appendRecord(buf, m.Sender)
	if m.Type.Indirect() {
		buf = append(buf, m.Indirect[:]...)
	}
	if m.Type.Piggyback() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Records)))
		for _, r := range m.Records {
			buf = appendRecord(buf, r)
		}
	}
	return buf, nil
}

func appendRecord(buf []byte, r Record) []byte {
	buf = append(buf, r.Addr[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Heartbeat))
	return append(buf, byte(r.Status))
}

// Decode parses a membership message. The returned message does not
// alias data.
func Decode(data []byte) (Message, error) {
	var m Message
	if len(data) < HeaderSize {
		return m, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(data))
	}
	m.Type = MsgType(data[0])
	if !m.Type.valid() {
		return m, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}

	var err error
	if m.Sender, err = decodeRecord(data[1:]); err != nil {
		return m, err
	}
	rest := data[HeaderSize:]

	if m.Type.Indirect() {
		if len(rest) < address.Size {
			return m, fmt.Errorf("%w: missing indirect address", ErrShortMessage)
		}
		copy(m.Indirect[:], rest)
		rest = rest[address.Size:]
	}

	if m.Type.Piggyback() {
		if len(rest) < countSize {
			return m, fmt.Errorf("%w: missing record count", ErrShortMessage)
		}
		count := binary.BigEndian.Uint32(rest)
		rest = rest[countSize:]
		if uint64(count)*RecordSize != uint64(len(rest)) {
			return m, fmt.Errorf("%w: %d records in %d bytes", ErrShortMessage, count, len(rest))
		}
		m.Records = make([]Record, count)
		for i := range m.Records {
			if m.Records[i], err = decodeRecord(rest[i*RecordSize:]); err != nil {
				return m, err
			}
		}
		rest = nil
	}

	if len(rest) != 0 {
		return m, fmt.Errorf("ringkv: %d trailing bytes after %s", len(rest), m.Type)
	}
	return m, nil
}

func decodeRecord(b []byte) (Record, error) {
	var r Record
	if len(b) < RecordSize {
		return r, fmt.Errorf("%w: truncated record", ErrShortMessage)
	}
	copy(r.Addr[:], b)
	r.Heartbeat = int64(binary.BigEndian.Uint64(b[address.Size:]))
	r.Status = MemberStatus(b[address.Size+8])
	if !r.Status.valid() {
		return r, fmt.Errorf("ringkv: invalid status %d for %s", b[address.Size+8], r.Addr)
	}
	return r, nil
}
