package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/memberdesk/memberdesk/cmd/memberdesk/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewRootCommand(cli.Options{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
