// linksec-node runs a secured link-layer endpoint over UDP.
//
// Each node emulates one radio: frames are IEEE 802.15.4 data frames
// secured with CCM* and carried one per datagram. Neighbors are listed in
// the configuration file. The node reads console commands from stdin.
//
// Usage:
//
//	linksec-node -config node.toml [options]
//
// Options:
//
//	-config  Path to the TOML configuration file (required)
//	-listen  UDP listen address, overrides transport.listen
//	-log     Log level, overrides log.level
//
// Console commands:
//
//	send <dest> <text>   dest is 4 hex digits (short) or 16 (extended)
//	set_key <hex>        install a 16-byte link key
//	unset_key            remove the link key
//	keys | neighbors | stats | help
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/linksec/internal/config"
	"github.com/backkem/linksec/pkg/frame"
	"github.com/backkem/linksec/pkg/keystore"
	"github.com/backkem/linksec/pkg/link"
	"github.com/backkem/linksec/pkg/security"
	"github.com/pion/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to the TOML configuration file")
	listen := flag.String("listen", "", "UDP listen address (overrides transport.listen)")
	logLevel := flag.String("log", "", "Log level (overrides log.level)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -config node.toml [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Transport.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Node error: %v", err)
	}
}

func run(cfg *config.Config) error {
	// The engine must reproduce its known-answer vector before any key is used.
	if err := security.SelfTest(); err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = level

	store, closeStore, err := openStore(cfg, loggerFactory)
	if err != nil {
		return err
	}
	defer closeStore()

	key, err := cfg.LinkKey()
	if err != nil {
		return fmt.Errorf("derive link key: %w", err)
	}
	if key != nil {
		if err := store.Put(cfg.KeyID(), key); err != nil {
			return fmt.Errorf("store link key: %w", err)
		}
	}

	epConfig, err := cfg.Endpoint()
	if err != nil {
		return err
	}
	epConfig.KeyStore = store
	epConfig.LoggerFactory = loggerFactory
	if seedFrameCounter(cfg, &epConfig) {
		log.Printf("No keys.store_path: frame counter starts at random value %d", epConfig.FrameCounter)
	}
	epConfig.Handler = func(r *link.Received) {
		fmt.Printf("rx from %016X (%s, counter %d): %q\n",
			r.Source, r.Header.Security.Level, r.Header.Security.FrameCounter, r.Payload)
	}

	ep, err := link.New(epConfig)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}

	neighbors, err := cfg.LinkNeighbors()
	if err != nil {
		return err
	}
	for _, n := range neighbors {
		ep.AddNeighbor(n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ep.Start(); err != nil {
		return fmt.Errorf("start endpoint: %w", err)
	}
	fmt.Printf("linksec-node %016X listening on %s (type 'help')\n", epConfig.ExtAddress, ep.LocalAddr())

	go readConsole(ctx, ep, stop)

	<-ctx.Done()
	log.Println("Shutting down...")
	return ep.Stop()
}

// openStore opens the SQLite key store when a path is configured and an
// in-memory store otherwise.
func openStore(cfg *config.Config, lf logging.LoggerFactory) (keystore.Store, func(), error) {
	if cfg.Keys.StorePath == "" {
		return keystore.NewMemoryStore(), func() {}, nil
	}
	s, err := keystore.OpenSQLite(keystore.SQLiteConfig{
		Path:          cfg.Keys.StorePath,
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// seedFrameCounter gives a node without a persistent store a random
// starting counter, since a configured link key outlives the process while
// the in-memory counter does not. It reports whether it seeded.
func seedFrameCounter(cfg *config.Config, ep *link.Config) bool {
	if cfg.Keys.StorePath != "" || ep.FrameCounter != 0 {
		return false
	}
	ep.FrameCounter = frame.RandomCounterInit()
	return true
}

// readConsole runs console commands until stdin closes, then stops the node.
func readConsole(ctx context.Context, ep *link.Endpoint, stop context.CancelFunc) {
	defer stop()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		out, err := runCommand(ep, scanner.Text())
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
	}
}
