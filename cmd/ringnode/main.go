// Command ringnode runs one ringkv node over gRPC with an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/discovery"
	"ringkv/internal/eventlog"
	"ringkv/internal/gossip"
	"ringkv/internal/node"
	"ringkv/internal/transport"
)

const (
	discoveryTimeout = 3 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	var (
		path   = flag.String("config", "", "YAML config file")
		listen = flag.String("listen", "", "override node.listen_addr")
		join   = flag.String("join", "", "override node.join_addr")
		httpAt = flag.String("http", "", "override node.http_addr")
	)
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ringnode: %v\n", err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.Node.ListenAddr = *listen
	}
	if *join != "" {
		cfg.Node.JoinAddr = *join
	}
	if *httpAt != "" {
		cfg.Node.HTTPAddr = *httpAt
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ringnode: %v\n", err)
		os.Exit(2)
	}

	log, err := eventlog.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ringnode: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("node failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	self, err := address.Parse(cfg.Node.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen address: %w", err)
	}
	log = log.With(zap.Stringer("node", self))

	hub := transport.NewHub(self, log)
	defer hub.Close()
	lis, err := net.Listen("tcp", cfg.Node.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := hub.Serve(lis); err != nil {
			log.Error("transport stopped", zap.Error(err))
		}
	}()

	introducers, cleanup, err := findIntroducers(ctx, cfg.Node, self, log)
	if err != nil {
		return err
	}
	defer cleanup()

	clk := clock.NewWall(cfg.Node.TickInterval)
	events := eventlog.NewZapSink(log.Named("audit"))
	m := gossip.NewMembership(self, cfg.Protocol, hub.Channel("gossip"), clk, rand.New(rand.NewSource(time.Now().UnixNano())), log, events)
	n := node.NewNode(m, hub.Channel("kv"), clk, cfg.Protocol, nil, log, events)
	runner := node.NewRunner(n, cfg.Node.TickInterval, log)

	m.Start(introducers...)
	log.Info("node starting", zap.Stringers("introducers", introducers))

	srv := &http.Server{
		Addr:              cfg.Node.HTTPAddr,
		Handler:           node.NewHandler(runner),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if srv.Addr != "" {
		go func() {
			log.Info("http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", zap.Error(err))
			}
		}()
	}

	err = runner.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv.Addr != "" {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}
	return err
}

// findIntroducers resolves who to join through: the configured join address
// and seeds first, then etcd, then mDNS. An empty result bootstraps a new
// group.
func findIntroducers(ctx context.Context, cfg config.Node, self address.Address, log *zap.Logger) ([]address.Address, func(), error) {
	cleanup := func() {}
	out, err := config.ParseAddresses(cfg.Seeds)
	if err != nil {
		return nil, cleanup, err
	}
	if cfg.JoinAddr != "" {
		a, err := address.Parse(cfg.JoinAddr)
		if err != nil {
			return nil, cleanup, fmt.Errorf("join address: %w", err)
		}
		out = append(out, a)
	}

	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := discovery.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.EtcdLeaseTTL, log)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() {
			if err := reg.Close(); err != nil {
				log.Warn("etcd close", zap.Error(err))
			}
		}
		if err := reg.Register(ctx, self); err != nil {
			return nil, cleanup, err
		}
		if len(out) == 0 {
			lookup, cancel := context.WithTimeout(ctx, discoveryTimeout)
			defer cancel()
			a, err := reg.Introducer(lookup)
			if err != nil {
				return nil, cleanup, err
			}
			out = append(out, a)
		}
	}

	if cfg.MDNS {
		ann, err := discovery.Announce(self, log)
		if err != nil {
			return nil, cleanup, err
		}
		prev := cleanup
		cleanup = func() {
			ann.Shutdown()
			prev()
		}
		if len(out) == 0 {
			lookup, cancel := context.WithTimeout(ctx, discoveryTimeout)
			defer cancel()
			a, err := ann.Introducer(lookup)
			switch {
			case errors.Is(err, discovery.ErrNoIntroducer):
				log.Info("no peers on the lan, starting a new group")
			case err != nil:
				return nil, cleanup, err
			default:
				out = append(out, a)
			}
		}
	}
	return out, cleanup, nil
}
