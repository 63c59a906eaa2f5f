package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mjhen/medstock/server/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.Execute(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}
