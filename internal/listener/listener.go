// Package listener runs the UDP and TCP front ends of the server,
// admitting queries through a bounded worker pool.
package listener

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/flirble-lb/flirble-dns-server/internal/dispatcher"
)

// DefaultCapacity bounds the number of queries handled concurrently
// when a Listener is built without an explicit capacity.
const DefaultCapacity = 128

// ShutdownTimeout bounds how long Shutdown waits for in-flight network
// servers to close their listeners.
const ShutdownTimeout = 5 * time.Second

// Listener fronts a Dispatcher with paired UDP/TCP dns.Server
// instances and a non-blocking admission gate: once capacity queries
// are in flight, further arrivals are dropped rather than queued.
type Listener struct {
	Addr       string
	Dispatcher *dispatcher.Dispatcher
	Log        *logrus.Logger

	sem     *semaphore.Weighted
	dropped int64

	udp *dns.Server
	tcp *dns.Server
}

// New builds a Listener bound to addr (host:port, both protocols),
// gating concurrent handling to capacity in-flight queries. A
// capacity <= 0 uses DefaultCapacity.
func New(addr string, d *dispatcher.Dispatcher, capacity int64, log *logrus.Logger) *Listener {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Listener{
		Addr:       addr,
		Dispatcher: d,
		Log:        log,
		sem:        semaphore.NewWeighted(capacity),
	}
	l.udp = &dns.Server{Addr: addr, Net: "udp", Handler: dns.HandlerFunc(l.serveDNS)}
	l.tcp = &dns.Server{Addr: addr, Net: "tcp", Handler: dns.HandlerFunc(l.serveDNS)}
	return l
}

// Dropped reports the number of queries dropped so far for capacity
// exhaustion.
func (l *Listener) Dropped() int64 {
	return atomic.LoadInt64(&l.dropped)
}

// Start launches the UDP and TCP servers; it returns once both have
// bound their sockets, and reports either bind error.
func (l *Listener) Start() error {
	udpReady := make(chan error, 1)
	tcpReady := make(chan error, 1)

	l.udp.NotifyStartedFunc = func() { udpReady <- nil }
	l.tcp.NotifyStartedFunc = func() { tcpReady <- nil }

	go func() {
		if err := l.udp.ListenAndServe(); err != nil {
			l.Log.WithError(err).Error("udp listener exited")
			select {
			case udpReady <- err:
			default:
			}
		}
	}()
	go func() {
		if err := l.tcp.ListenAndServe(); err != nil {
			l.Log.WithError(err).Error("tcp listener exited")
			select {
			case tcpReady <- err:
			default:
			}
		}
	}()

	if err := <-udpReady; err != nil {
		return err
	}
	if err := <-tcpReady; err != nil {
		return err
	}
	return nil
}

// Shutdown gracefully stops both servers, bounded by ShutdownTimeout.
func (l *Listener) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var err error
	if e := l.udp.ShutdownContext(ctx); e != nil {
		err = e
	}
	if e := l.tcp.ShutdownContext(ctx); e != nil {
		err = e
	}
	return err
}

// serveDNS is the dns.Handler entry point for both servers. It admits
// the request through the semaphore (non-blocking — capacity
// exhaustion drops the query rather than queuing it), packs r,
// delegates to the Dispatcher, and writes back whatever came out.
func (l *Listener) serveDNS(w dns.ResponseWriter, r *dns.Msg) {
	if !l.sem.TryAcquire(1) {
		atomic.AddInt64(&l.dropped, 1)
		l.Log.Warn("dropping query: handler capacity exceeded")
		return
	}
	defer l.sem.Release(1)

	raw, err := r.Pack()
	if err != nil {
		l.Log.WithError(err).Debug("failed to repack inbound query")
		return
	}

	out := l.Dispatcher.Handle(raw, w.RemoteAddr().String())
	if out == nil {
		return
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(out); err != nil {
		l.Log.WithError(err).Error("failed to unpack dispatcher reply")
		return
	}
	_ = w.WriteMsg(reply)
}
