package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ringkv/internal/address"
)

const (
	// Metadata key naming the destination channel of a delivery
	channelMetadataKey = "x-ringkv-channel"
	deliverMethod      = "/ringkv.Transport/Deliver"
	// Per-delivery deadline
	defaultSendTimeout = 2 * time.Second
	defaultInboxSize   = 4096
)

// ErrClosed is returned by Send after the hub was closed.
var ErrClosed = errors.New("ringkv: transport closed")

// deliverer is the server-side contract of the Transport service.
type deliverer interface {
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "ringkv.Transport",
	HandlerType: (*deliverer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringkv/transport.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deliverer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(deliverer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Hub is the gRPC endpoint of one node. Each protocol gets its own named
// Channel multiplexed over the same server and client connections.
type Hub struct {
	self        address.Address
	log         *zap.Logger
	server      *grpc.Server
	sendTimeout time.Duration

	mu       sync.RWMutex
	conns    map[address.Address]*grpc.ClientConn
	channels map[string]*Channel
	closed   bool
	wg       sync.WaitGroup
}

// NewHub creates a hub for self. Call Channel for every protocol before Serve.
func NewHub(self address.Address, log *zap.Logger) *Hub {
	h := &Hub{
		self:        self,
		log:         log.Named("transport"),
		server:      grpc.NewServer(),
		sendTimeout: defaultSendTimeout,
		conns:       make(map[address.Address]*grpc.ClientConn),
		channels:    make(map[string]*Channel),
	}
	h.server.RegisterService(&transportServiceDesc, h)
	return h
}

// Channel returns the named channel, creating it on first use.
func (h *Hub) Channel(name string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.channels[name]; ok {
		return c
	}
	c := &Channel{hub: h, name: name, max: defaultInboxSize}
	h.channels[name] = c
	return c
}

// Serve accepts deliveries on lis until Close is called.
func (h *Hub) Serve(lis net.Listener) error {
	h.log.Info("transport listening", zap.String("addr", lis.Addr().String()))
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Close stops the server, waits for in-flight sends and closes all connections.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.server.Stop()
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for addr, conn := range h.conns {
		if err := conn.Close(); err != nil {
			h.log.Debug("close connection", zap.Stringer("peer", addr), zap.Error(err))
		}
	}
	h.conns = make(map[address.Address]*grpc.ClientConn)
}

// Deliver implements the server side of ringkv.Transport.
func (h *Hub) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	names := md.Get(channelMetadataKey)
	if len(names) != 1 {
		return nil, status.Error(codes.InvalidArgument, "missing channel")
	}

	h.mu.RLock()
	c, ok := h.channels[names[0]]
	h.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown channel %q", names[0])
	}
	c.push(in.GetValue())
	return &emptypb.Empty{}, nil
}

// conn returns a client connection to addr, creating it if needed.
func (h *Hub) conn(addr address.Address) (*grpc.ClientConn, error) {
	h.mu.RLock()
	conn, exists := h.conns[addr]
	h.mu.RUnlock()

	if exists {
		return conn, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := h.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr.String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	h.conns[addr] = conn
	return conn, nil
}

func (h *Hub) send(channel string, to address.Address, data []byte) error {
	h.mu.RLock()
	closed := h.closed
	if !closed {
		h.wg.Add(1)
	}
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	conn, err := h.conn(to)
	if err != nil {
		h.wg.Done()
		return err
	}

	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
		defer cancel()
		ctx = metadata.AppendToOutgoingContext(ctx, channelMetadataKey, channel)

		if err := conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(data), new(emptypb.Empty)); err != nil {
			h.log.Debug("delivery failed",
				zap.String("channel", channel),
				zap.Stringer("peer", to),
				zap.Error(err))
		}
	}()
	return nil
}

// Channel is one protocol's view of a Hub. It implements Transport.
type Channel struct {
	hub  *Hub
	name string

	mu    sync.Mutex
	inbox [][]byte
	max   int
}

// Send implements Transport. from must be the hub's own address.
func (c *Channel) Send(from, to address.Address, data []byte) error {
	if from != c.hub.self {
		return fmt.Errorf("send from %s on hub %s", from, c.hub.self)
	}
	return c.hub.send(c.name, to, append([]byte(nil), data...))
}

// Receive implements Transport.
func (c *Channel) Receive(self address.Address) ([][]byte, bool) {
	c.hub.mu.RLock()
	closed := c.hub.closed
	c.hub.mu.RUnlock()
	if closed || self != c.hub.self {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.inbox
	c.inbox = nil
	return msgs, true
}

func (c *Channel) push(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) >= c.max {
		return
	}
	c.inbox = append(c.inbox, data)
}
