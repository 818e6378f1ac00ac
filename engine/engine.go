// Package engine wires the terminal's subsystems together: the durable
// write queue, the conflict resolver, the catalog and report caches, the
// floor coordinator, and the offline session tracker, all joined by a
// synchronous event bus.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tillsync/backend"
	"tillsync/catalog"
	"tillsync/config"
	"tillsync/conflict"
	"tillsync/lan"
	"tillsync/outbox"
	"tillsync/pos"
	"tillsync/reports"
	"tillsync/session"
	"tillsync/store"
)

// Engine centralizes business logic and orchestrates subsystems.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	remote     backend.Client

	queue    *outbox.Processor
	resolver *conflict.Resolver
	catalog  *catalog.Cache
	reports  *reports.Cache
	lanCoord *lan.Coordinator
	sessions *session.Tracker
	monitor  *connectivityMonitor

	Events   *EventBus
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Remote     backend.Client
}

// New creates a new Engine. Call Start() to initialize and wire subsystems.
func New(c Config) *Engine {
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		remote:     c.Remote,
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}

	e.resolver = conflict.NewResolver(e.db, e.remote, &conflictEmitter{bus: e.Events})
	e.queue = outbox.NewProcessor(e.db, e.remote, e.resolver, &queueEmitter{bus: e.Events}, e.cfg.Queue)
	e.catalog = catalog.NewCache(e.db, e.remote, &catalogEmitter{bus: e.Events}, e.cfg.Catalog)
	e.reports = reports.NewCache(e.db, e.remote, &reportsEmitter{bus: e.Events}, e.cfg.Reports)
	e.lanCoord = lan.NewCoordinator(&e.cfg.LAN, e.cfg.NodeID(), &lanEmitter{bus: e.Events})
	e.sessions = session.NewTracker(e.db)
	e.monitor = newConnectivityMonitor(e.remote, e.Events, e.cfg.Backend)
	return e
}

// Start wires event handlers and starts subsystems.
func (e *Engine) Start() {
	e.wireEventHandlers()

	e.queue.Start()
	e.monitor.Start()
	if err := e.lanCoord.Start(); err != nil {
		log.Printf("engine: lan coordinator: %v", err)
	}

	e.wg.Add(1)
	go e.maintenanceLoop()

	log.Printf("engine started: node=%s backend=%s lan=%s hub=%v",
		e.cfg.NodeID(), e.cfg.Backend.URL, e.cfg.LAN.Backend, e.cfg.LAN.Hub)
}

// Stop shuts down all subsystems gracefully.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	e.monitor.Stop()
	e.queue.Stop()
	e.lanCoord.Stop()

	log.Printf("engine stopped")
}

// maintenanceLoop handles the slow periodic work: catalog refresh and
// report retention.
func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	refresh := e.cfg.Catalog.RefreshInterval
	if refresh <= 0 {
		refresh = time.Hour
	}
	refreshTicker := time.NewTicker(refresh)
	defer refreshTicker.Stop()
	purgeTicker := time.NewTicker(6 * time.Hour)
	defer purgeTicker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-refreshTicker.C:
			if !e.monitor.Online() {
				continue
			}
			if _, err := e.catalog.SyncAll(context.Background()); err != nil {
				log.Printf("engine: catalog refresh: %v", err)
			}
		case <-purgeTicker.C:
			if n, err := e.reports.PurgeExpired(time.Now()); err != nil {
				log.Printf("engine: purge reports: %v", err)
			} else if n > 0 {
				log.Printf("engine: purged %d expired report snapshots", n)
			}
		}
	}
}

// SubmitOrder validates and queues an order, then announces it on the
// floor. Returns store.ErrQueueFull when the queue cannot take more.
func (e *Engine) SubmitOrder(p *pos.OrderPayload) (*store.QueueItem, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.TerminalID == "" {
		p.TerminalID = e.cfg.TerminalID
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	item, err := e.queue.Enqueue(pos.TypeOrder, raw)
	if err != nil {
		return nil, err
	}
	e.lanCoord.Publish(lan.TypeNewOrder, lan.OrderStatusPayload{
		OrderID: p.ID, OrderNumber: p.OrderNumber, Status: "created",
	})
	return item, nil
}

// SubmitPayment validates and queues a payment. OrderID may reference an
// order still waiting in the queue; the drain remaps it.
func (e *Engine) SubmitPayment(p *pos.PaymentPayload) (*store.QueueItem, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.TerminalID == "" {
		p.TerminalID = e.cfg.TerminalID
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return e.queue.Enqueue(pos.TypePayment, raw)
}

// SubmitStockMovement validates and queues a stock adjustment.
func (e *Engine) SubmitStockMovement(p *pos.StockMovementPayload) (*store.QueueItem, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.TerminalID == "" {
		p.TerminalID = e.cfg.TerminalID
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return e.queue.Enqueue(pos.TypeStockMovement, raw)
}

// Online returns the last probed backend state.
func (e *Engine) Online() bool { return e.monitor.Online() }

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// Queue returns the outbox processor.
func (e *Engine) Queue() *outbox.Processor { return e.queue }

// Resolver returns the conflict resolver.
func (e *Engine) Resolver() *conflict.Resolver { return e.resolver }

// Catalog returns the reference-data read cache.
func (e *Engine) Catalog() *catalog.Cache { return e.catalog }

// Reports returns the report snapshot cache.
func (e *Engine) Reports() *reports.Cache { return e.reports }

// LAN returns the floor coordinator.
func (e *Engine) LAN() *lan.Coordinator { return e.lanCoord }

// Sessions returns the offline period tracker.
func (e *Engine) Sessions() *session.Tracker { return e.sessions }
