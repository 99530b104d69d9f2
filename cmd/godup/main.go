package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args, os.Stdout); err != nil {
		log.G(ctx).WithError(err).Fatal("godup")
	}
}
