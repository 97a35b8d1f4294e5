// ABOUTME: Entry point for the standalone relay server
// ABOUTME: Parses CLI flags, loads configuration and serves websocket sessions
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/flacrelay/internal/config"
	"github.com/Resonate-Protocol/flacrelay/internal/logging"
	"github.com/Resonate-Protocol/flacrelay/internal/server"
	"github.com/rs/zerolog/log"
)

var (
	configFile = flag.String("config", "", "Config file (default: ./flacrelay.yaml)")
	port       = flag.Int("port", 0, "WebSocket server port (default from config)")
	name       = flag.String("name", "", "Server friendly name (default: hostname-flacrelay)")
	logFile    = flag.String("log-file", "", "Also append logs to this file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *name != "" {
		cfg.Server.Name = *name
	}
	if *noMDNS {
		cfg.Server.EnableMDNS = false
	}

	log.Info().Str("name", cfg.Server.Name).Int("port", cfg.Server.Port).Msg("starting relay server")
	log.Info().Msg("press Ctrl-C to stop")

	srv := server.New(server.Config{
		Port:             cfg.Server.Port,
		Name:             cfg.Server.Name,
		EnableMDNS:       cfg.Server.EnableMDNS,
		CompressionLevel: cfg.Encode.CompressionLevel,
		BlockSize:        cfg.Encode.BlockSize,
		Verify:           cfg.Encode.Verify,
		FinishTimeout:    cfg.Relay.FinishTimeout,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}
