// Package chainhealth periodically probes both chain gateways and the
// durable stores, exposing a snapshot an operator (or the top-level
// resolver's own shutdown logic) can query without standing up a status
// dashboard (§1 Non-goals exclude dashboards; this is the in-process
// equivalent lnd's own healthcheck submodule gestures at but never
// implements).
package chainhealth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
)

var log = btclog.Disabled

// UseLogger plugs a subsystem logger into this package.
func UseLogger(l btclog.Logger) { log = l }

// checkInterval is how often the monitor re-probes every component.
const checkInterval = 15 * time.Second

// probeTimeout bounds each individual chain call so one unreachable RPC
// endpoint cannot stall the whole report.
const probeTimeout = 5 * time.Second

// ChainStatus is one gateway's most recent probe result.
type ChainStatus struct {
	Reachable   bool
	BlockNumber uint64
	Err         string
}

// Report is a full liveness snapshot across both chains and the stores.
type Report struct {
	Src        ChainStatus
	Dst        ChainStatus
	StoreOK    bool
	LastUpdate time.Time
}

// Healthy reports whether every component in the report is up.
func (r Report) Healthy() bool {
	return r.Src.Reachable && r.Dst.Reachable && r.StoreOK
}

// Monitor periodically pings the source and destination gateways and the
// shared bbolt handle, keeping an atomically-readable Report so callers
// never block on a slow chain.
type Monitor struct {
	srcGateway *chaingateway.Gateway
	dstGateway *chaingateway.Gateway
	db         *boltutil.DB

	healthy atomic.Bool

	mu     sync.RWMutex
	report Report

	unreachableGauge prometheus.Gauge

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Monitor over the two chain gateways and the shared store
// handle.
func New(srcGateway, dstGateway *chaingateway.Gateway, db *boltutil.DB) *Monitor {
	return &Monitor{
		srcGateway: srcGateway,
		dstGateway: dstGateway,
		db:         db,
		quit:       make(chan struct{}),
		unreachableGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resolver",
			Subsystem: "chainhealth",
			Name:      "unreachable_chains",
			Help:      "Number of configured chain gateways currently failing their liveness probe.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Monitor) Describe(ch chan<- *prometheus.Desc) { m.unreachableGauge.Describe(ch) }

// Collect implements prometheus.Collector.
func (m *Monitor) Collect(ch chan<- prometheus.Metric) { m.unreachableGauge.Collect(ch) }

// Start launches the periodic probe loop, running one check immediately
// so Health() has a report to return right away.
func (m *Monitor) Start() {
	m.probeOnce()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.quit:
				return
			case <-ticker.C:
				m.probeOnce()
			}
		}
	}()
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

// Health returns the most recent report.
func (m *Monitor) Health() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report
}

func (m *Monitor) probeOnce() {
	src := probeChain(m.srcGateway)
	dst := probeChain(m.dstGateway)
	storeOK := probeStore(m.db)

	unreachable := 0
	if !src.Reachable {
		unreachable++
	}
	if !dst.Reachable {
		unreachable++
	}
	m.unreachableGauge.Set(float64(unreachable))

	report := Report{Src: src, Dst: dst, StoreOK: storeOK, LastUpdate: time.Now()}

	m.mu.Lock()
	m.report = report
	m.mu.Unlock()

	m.healthy.Store(report.Healthy())
	if !report.Healthy() {
		log.Warnf("chainhealth: unhealthy: src=%+v dst=%+v store_ok=%v", src, dst, storeOK)
	}
}

func probeChain(gw *chaingateway.Gateway) ChainStatus {
	if gw == nil {
		return ChainStatus{Reachable: false, Err: "gateway not configured"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	block, err := gw.CurrentBlock(ctx)
	if err != nil {
		return ChainStatus{Reachable: false, Err: err.Error()}
	}
	return ChainStatus{Reachable: true, BlockNumber: block}
}

func probeStore(db *boltutil.DB) bool {
	if db == nil {
		return false
	}
	return db.View(func(_ *bolt.Tx) error { return nil }) == nil
}
