package main

import (
	"context"
	"log"
	"os"
	"os/signal"
)

func main() {
	// Interrupts cancel the reconstruction between iterations
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("Error: %v", err)
	}
}
