package server

import (
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/pbsmetrics"
)

// monitorableListener tracks every connection it accepts, and turns on TCP keep-alives for them.
type monitorableListener struct {
	*net.TCPListener
	metrics pbsmetrics.MetricsEngine
}

type monitorableConnection struct {
	net.Conn
	metrics pbsmetrics.MetricsEngine
}

func (l *monitorableConnection) Close() error {
	err := l.Conn.Close()
	if err == nil {
		l.metrics.RecordConnectionClose(true)
	} else {
		glog.V(2).Infof("Error closing connection: %v", err)
		l.metrics.RecordConnectionClose(false)
	}
	return err
}

func (ln *monitorableListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		glog.Errorf("Error accepting connection: %v", err)
		ln.metrics.RecordConnectionAccept(false)
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	ln.metrics.RecordConnectionAccept(true)
	return &monitorableConnection{
		tc,
		ln.metrics,
	}, nil
}
