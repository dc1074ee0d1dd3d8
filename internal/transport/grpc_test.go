package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ringkv/internal/address"
)

func startHub(t *testing.T) (*Hub, address.Address) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr, err := address.Parse(lis.Addr().String())
	require.NoError(t, err)

	hub := NewHub(addr, zap.NewNop())
	hub.Channel("gossip")
	hub.Channel("kv")
	go func() { _ = hub.Serve(lis) }()
	t.Cleanup(hub.Close)
	return hub, addr
}

func TestHub_DeliversPerChannel(t *testing.T) {
	h1, a1 := startHub(t)
	h2, a2 := startHub(t)

	require.NoError(t, h1.Channel("gossip").Send(a1, a2, []byte("ping")))
	require.NoError(t, h1.Channel("kv").Send(a1, a2, []byte("create")))

	var gossip, kv [][]byte
	require.Eventually(t, func() bool {
		g, _ := h2.Channel("gossip").Receive(a2)
		gossip = append(gossip, g...)
		k, _ := h2.Channel("kv").Receive(a2)
		kv = append(kv, k...)
		return len(gossip) == 1 && len(kv) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "ping", string(gossip[0]))
	assert.Equal(t, "create", string(kv[0]))
}

func TestHub_RejectsForeignSender(t *testing.T) {
	h1, _ := startHub(t)
	err := h1.Channel("gossip").Send(address.FromID(9, 9), address.FromID(1, 1), []byte("x"))
	assert.Error(t, err)
}

func TestHub_Closed(t *testing.T) {
	h, a := startHub(t)
	h.Close()

	_, ok := h.Channel("gossip").Receive(a)
	assert.False(t, ok)
	assert.ErrorIs(t, h.Channel("gossip").Send(a, a, []byte("x")), ErrClosed)
}
