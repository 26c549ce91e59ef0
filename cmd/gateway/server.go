package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"chain-gateway/internal/chain"
	"chain-gateway/internal/chain/evm"
	"chain-gateway/internal/chain/solana"
	"chain-gateway/internal/chain/ton"
	"chain-gateway/internal/chain/tron"
	"chain-gateway/internal/config"
	"chain-gateway/internal/handlers"
	"chain-gateway/internal/logger"
	"chain-gateway/internal/repository"
	"chain-gateway/internal/store"
	"chain-gateway/internal/validator"
)

// GatewayServer owns one backend's adapter, the subscription engine
// wrapped by repository.Facade, and the two network listeners spec.md §6
// names: the HTTP JSON-RPC façade and the WebSocket subscribeAccount
// endpoint.
type GatewayServer struct {
	cfg    *config.Config
	log    logger.Logger
	facade *repository.Facade
	cache  *store.Cache

	jsonrpcSrv *http.Server
	wsSrv      *http.Server

	cancel context.CancelFunc
}

// NewGatewayServer builds the adapter for backend, wires it into a fresh
// Facade, and prepares (but does not yet start) both listeners.
func NewGatewayServer(backend config.Backend, cfg *config.Config) (*GatewayServer, error) {
	lg := logger.New(string(backend))

	upstream, err := cfg.UpstreamFor(backend)
	if err != nil {
		return nil, err
	}

	adapter, err := buildAdapter(backend, upstream, lg)
	if err != nil {
		return nil, fmt.Errorf("can not start %s adapter: %w", backend, err)
	}

	cache, err := store.New(cfg.Store, lg)
	if err != nil {
		return nil, fmt.Errorf("can not start history cache: %w", err)
	}

	facade := repository.New(adapter, cache, lg)
	val := validator.NewAddressValidator(&upstream, adapter, lg)

	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", handlers.JSONRPC(facade, lg))
	mux.HandleFunc("/ping", handlers.Ping())

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", handlers.WebSocket(facade, val, lg))

	return &GatewayServer{
		cfg:        cfg,
		log:        lg,
		facade:     facade,
		cache:      cache,
		jsonrpcSrv: &http.Server{Addr: cfg.Server.JSONRPCBindAddress, Handler: mux},
		wsSrv:      &http.Server{Addr: cfg.Server.WebSocketBindAddress, Handler: wsMux},
	}, nil
}

// buildAdapter constructs the chain.Adapter for backend. EVM dialing is
// the only constructor that can fail at start (spec.md §7 "hard failures
// at start" — cannot obtain initial height / bad RPC endpoint).
func buildAdapter(backend config.Backend, upstream config.Upstream, log logger.Logger) (chain.Adapter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch backend {
	case config.BackendHardhat:
		return evm.Dial(ctx, "hardhat", upstream.URI, upstream.BlockReadIntervalMS, log)
	case config.BackendAnkr:
		return evm.Dial(ctx, "ankr", upstream.URI, upstream.BlockReadIntervalMS, log)
	case config.BackendSolana:
		return solana.New("solana", upstream.URI, upstream.GraphQLAggregatorURI, upstream.BlockReadIntervalMS, log), nil
	case config.BackendTron:
		return tron.New("tron", upstream.URI, upstream.SolidityNodeURI, upstream.BlockReadIntervalMS, log), nil
	case config.BackendTonCenter:
		return ton.New("toncenter", upstream.URI, upstream.APIKey, upstream.BlockReadIntervalMS, log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// Run starts the Facade's background services (HeightPoller, sweeper) and
// blocks serving both listeners. It terminates the process on a listener
// failure, matching the teacher's log.Fatal-on-ListenAndServe convention.
func (g *GatewayServer) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.facade.Run(ctx)

	errc := make(chan error, 2)
	go func() {
		g.log.Noticef("jsonrpc listening on %s", g.jsonrpcSrv.Addr)
		errc <- g.jsonrpcSrv.ListenAndServe()
	}()
	go func() {
		g.log.Noticef("websocket listening on %s", g.wsSrv.Addr)
		errc <- g.wsSrv.ListenAndServe()
	}()

	if err := <-errc; err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// Stop terminates both listeners and the Facade's background services.
func (g *GatewayServer) Stop() {
	g.log.Notice("gateway server is terminating")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = g.jsonrpcSrv.Shutdown(shutdownCtx)
	_ = g.wsSrv.Shutdown(shutdownCtx)

	if g.cancel != nil {
		g.cancel()
	}
	g.facade.Close()
	g.cache.Close()

	g.log.Notice("gateway server closed")
}
