package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/tether/internal/audit"
	"github.com/fentz26/tether/internal/decision"
	"github.com/fentz26/tether/internal/executor/echo"
	"github.com/fentz26/tether/internal/gateway"
	"github.com/fentz26/tether/internal/sessionstore"
	"github.com/fentz26/tether/internal/sweeper"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the tether daemon",
	Long:  `Starts the tether daemon which exposes the websocket channel and session API clients pair with.`,
	RunE:  runDaemon,
}

func init() {
	defaultDB := filepath.Join(configDir(), "tether.db")

	daemonCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7600", "Listen address for the channel and API")
	daemonCmd.Flags().StringVar(&dbPath, "db", defaultDB, "Path to SQLite database")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting tether daemon...")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return err
	}

	db, err := sessionstore.OpenDB(dbPath)
	if err != nil {
		return err
	}

	store := sessionstore.New(nil, db)
	if err := store.Restore(); err != nil {
		log.Printf("Warning: failed to restore sessions: %v", err)
	}
	log.Printf("Restored %d sessions", store.Len())

	engine := decision.New(nil, store)
	auditor := audit.NewWriter(db)
	exec := echo.New()

	service := gateway.NewService(store, engine, exec, auditor)
	server := gateway.NewServer(service, listenAddr)

	sweep := sweeper.New(store, nil)
	sweep.Start()
	defer sweep.Stop()

	if payload, err := server.PairingPayload(); err == nil {
		log.Printf("Pairing payload: %s", payload)
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			db.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down channel server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Persisting sessions...")
	if err := store.PersistAll(); err != nil {
		log.Printf("Session persist error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
