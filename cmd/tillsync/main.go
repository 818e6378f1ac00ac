package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tillsync/backend"
	"tillsync/config"
	"tillsync/engine"
	"tillsync/store"
	"tillsync/www"
)

func main() {
	configPath := flag.String("config", "tillsync.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if *port > 0 {
		cfg.Web.Port = *port
	}

	// Open database
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	seedOperator(db)

	// Remote backend client
	remote := backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.APIKey, cfg.TerminalID, cfg.Backend.Timeout)

	// Create and start engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		Remote:     remote,
	})
	eng.Start()
	defer eng.Stop()

	// Warm the catalog so the register can sell immediately. A failure here
	// is fine; the terminal starts on whatever is already cached.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := eng.Catalog().SyncAll(ctx); err != nil {
			log.Printf("initial catalog sync: %v", err)
		}
	}()

	// Set up HTTP server
	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	// Start HTTP server
	go func() {
		log.Printf("tillsync listening on %s (node=%s)", addr, cfg.NodeID())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	// Graceful HTTP shutdown with 10s deadline
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}

// seedOperator creates the default admin account on first run. The printed
// password must be changed through the API.
func seedOperator(db *store.DB) {
	exists, err := db.OperatorExists()
	if err != nil {
		log.Printf("check operators: %v", err)
		return
	}
	if exists {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("hash default password: %v", err)
		return
	}
	if _, err := db.CreateOperator("admin", string(hash)); err != nil {
		log.Printf("create default operator: %v", err)
		return
	}
	log.Println("created default operator admin/admin; change the password now")
}
