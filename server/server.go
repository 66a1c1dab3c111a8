package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/pbsmetrics"
	metricsconfig "github.com/prebid/prebid-exchange/pbsmetrics/config"
)

const shutdownTimeout = 10 * time.Second

// namedServer pairs a server with the listener it serves on.
type namedServer struct {
	name     string
	server   *http.Server
	listener net.Listener
}

// Listen serves auction requests on the configured port, and admin requests on the admin port.
// Prometheus gets its own port when one is configured.
//
// It blocks until the process receives SIGTERM or SIGINT, then shuts every server down gracefully.
func Listen(cfg *config.Configuration, handler http.Handler, adminHandler http.Handler, metrics *metricsconfig.DetailedMetricsEngine) {
	servers, err := openServers(cfg, handler, adminHandler, metrics)
	if err != nil {
		glog.Errorf("%v", err)
		return
	}

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, syscall.SIGTERM, syscall.SIGINT)
	serveUntilSignal(servers, stopSignals)
}

// openServers builds every server and binds its listener. If any port can't be bound,
// the listeners opened so far are closed again.
func openServers(cfg *config.Configuration, handler http.Handler, adminHandler http.Handler, metrics *metricsconfig.DetailedMetricsEngine) ([]namedServer, error) {
	type candidate struct {
		name    string
		server  *http.Server
		metrics *metricsconfig.DetailedMetricsEngine
	}
	candidates := []candidate{
		{name: "Main", server: newMainServer(cfg, handler), metrics: metrics},
		{name: "Admin", server: newAdminServer(cfg, adminHandler)},
	}
	if cfg.Metrics.Prometheus.Port != 0 {
		candidates = append(candidates, candidate{name: "Prometheus", server: newPrometheusServer(cfg, metrics)})
	}

	servers := make([]namedServer, 0, len(candidates))
	for _, c := range candidates {
		ln, err := newListener(c.server.Addr, c.metrics)
		if err != nil {
			for _, opened := range servers {
				opened.listener.Close()
			}
			return nil, fmt.Errorf("%s server: %v", c.name, err)
		}
		servers = append(servers, namedServer{name: c.name, server: c.server, listener: ln})
	}
	return servers, nil
}

// serveUntilSignal runs every server until something arrives on stop.
// It returns once all of them have shut down.
func serveUntilSignal(servers []namedServer, stop <-chan os.Signal) {
	for _, s := range servers {
		go runServer(s)
	}

	sig := <-stop
	glog.Infof("Received signal %s. Shutting down %d servers.", sig.String(), len(servers))
	shutdownAll(servers, shutdownTimeout)
}

func shutdownAll(servers []namedServer, timeout time.Duration) {
	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s namedServer) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := s.server.Shutdown(ctx); err != nil {
				glog.Errorf("Failed to shutdown %s server on %s: %v", s.name, s.server.Addr, err)
			}
		}(s)
	}
	wg.Wait()
}

func newAdminServer(cfg *config.Configuration, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    cfg.Host + ":" + strconv.Itoa(cfg.AdminPort),
		Handler: handler,
	}
}

func newMainServer(cfg *config.Configuration, handler http.Handler) *http.Server {
	var serverHandler = handler
	if cfg.EnableGzip {
		serverHandler = gziphandler.GzipHandler(handler)
	}

	return &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:      serverHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

func runServer(s namedServer) {
	glog.Infof("%s server starting on: %s", s.name, s.server.Addr)
	if err := s.server.Serve(s.listener); err != http.ErrServerClosed {
		glog.Errorf("%s server quit with error: %v", s.name, err)
	}
}

// newListener opens a TCP listener on the address. Connections are counted if metrics is non-nil.
func newListener(address string, metrics *metricsconfig.DetailedMetricsEngine) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("Error listening for TCP connections on %s: %v", address, err)
	}

	casted, ok := ln.(*net.TCPListener)
	if !ok {
		glog.Warning("net.Listen(\"tcp\", \"addr\") didn't return a TCPListener. Connection metrics and keep-alives are disabled.")
		return ln, nil
	}

	var engine pbsmetrics.MetricsEngine = &metricsconfig.DummyMetricsEngine{}
	if metrics != nil {
		engine = metrics
	}
	return &monitorableListener{casted, engine}, nil
}
