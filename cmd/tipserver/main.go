// Package main runs the tip settlement HTTP server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Embeds the IANA database so tip timezones resolve in minimal images.
	_ "time/tzdata"

	"github.com/R3E-Network/tip_settlement/internal/app/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx)
	if err != nil {
		log.Fatalf("initialise: %v", err)
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		log.Printf("server error: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
