package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/config"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/server"
	"github.com/ZanzyTHEbar/hybrid-kg-go/pkg/engine"
)

var (
	libsqlURL     = flag.String("libsql-url", "", "libSQL database URL (default: file:./hybridkg.db)")
	authToken     = flag.String("auth-token", "", "Authentication token for remote databases")
	configFile    = flag.String("config", "", "Optional YAML config file overlaying the environment")
	vectorPath    = flag.String("vector-path", "", "Directory for the persistent vector index (default: in-memory)")
	transport     = flag.String("transport", "stdio", "Transport to use: stdio or sse")
	addr          = flag.String("addr", ":8080", "Address to listen on when using SSE transport")
	sseEndpoint   = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
	sweepInterval = flag.Duration("sweep-interval", time.Minute, "How often to sweep expired memory entries (0 disables)")
	devLog        = flag.Bool("dev-log", false, "Use the development logger (human-readable output)")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, closing server...")
		cancel()
	}()

	logger, err := buildLogger(*devLog)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	cfg := config.NewConfig()
	if err := cfg.Load(*configFile); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *vectorPath != "" {
		cfg.VectorPath = *vectorPath
	}

	graphCfg := graphstore.NewConfig()
	if *libsqlURL != "" {
		graphCfg.URL = *libsqlURL
	}
	if *authToken != "" {
		graphCfg.AuthToken = *authToken
	}

	eng, err := engine.New(cfg, engine.Options{GraphConfig: graphCfg, Logger: logger})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Printf("Error closing engine: %v", err)
		}
	}()

	if *sweepInterval > 0 {
		go eng.RunMaintenance(ctx, *sweepInterval)
	}

	mcpServer := server.NewMCPServer(eng)

	log.Println("Starting Hybrid KG server...")
	switch *transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				log.Printf("Server error: %v", err)
			}
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				log.Printf("SSE server error: %v", err)
			}
		}()
	default:
		log.Fatalf("unknown transport: %s (expected: stdio or sse)", *transport)
	}

	<-ctx.Done()

	log.Println("Server stopped")
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
