package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/g960059/aistatus/internal/cli"
)

// aistatusd is "aistatus run" with the daemon flags passed straight through.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	args := append([]string{"run"}, os.Args[1:]...)
	code := cli.NewRunner(os.Stdin, os.Stdout, os.Stderr).Run(ctx, args)
	cancel()
	os.Exit(code)
}
