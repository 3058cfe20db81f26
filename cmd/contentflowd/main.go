// Command contentflowd runs the contentflow daemon: the HTTP API plus the
// periodic release and recovery loops.
package main

import (
	"context"
	"flag"
	"log"

	"contentflow/internal/config"
	"contentflow/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	apiOnly := flag.Bool("api-only", false, "Serve HTTP only; skip the lock and background loops")
	logLevel := flag.String("log-level", "", "Override logging.level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel: *logLevel,
		APIOnly:  *apiOnly,
	}); err != nil {
		log.Fatalf("contentflowd: %v", err)
	}
}
