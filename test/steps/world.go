// Package steps holds the shared fixture (the "world") that every step
// definition in this suite operates on: a coordinator wired exactly as
// cmd/coordinatord wires it, but served by httptest instead of a real
// listener, and driven by plain net/http calls standing in for a worker.
package steps

import (
	"net/http"
	"time"

	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/lifecycle"
	"github.com/gwlsn/avfarm/internal/registry"
	"github.com/gwlsn/avfarm/internal/scan"
	"github.com/gwlsn/avfarm/internal/scheduler"
	"github.com/gwlsn/avfarm/internal/store"
)

// World is the fixture one scenario runs against. A fresh one is built in
// BeforeScenario so scenarios never leak state into each other.
type World struct {
	dir string

	store     *store.SQLiteStore
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	bus       *eventbus.Bus
	lifecycle *lifecycle.Lifecycle
	scanner   *scan.Scanner

	srvURL string
	client *http.Client

	minSavingsPercent float64
	pinGrace          time.Duration

	lastFileID int64
	// leaseByWorker maps worker_id -> its most recent Assignment's lease token.
	leaseByWorker map[string]string
	// remembered lets a scenario stash a lease token under a name (e.g.
	// "stale") to use again after the assignment that issued it is gone.
	remembered map[string]string

	lastStatusCode int
	lastBody       []byte
}

func newWorld() *World {
	return &World{
		client:            &http.Client{Timeout: 5 * time.Second},
		minSavingsPercent: lifecycle.DefaultMinSavingsPercent,
		pinGrace:          scheduler.DefaultPinGrace,
		leaseByWorker:     map[string]string{},
		remembered:        map[string]string{},
	}
}
