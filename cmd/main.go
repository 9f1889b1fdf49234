package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mail-sender/internal/cli"
)

func main() {
	// Cancel the in-flight session on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
