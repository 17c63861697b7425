package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agrovision/cropscan/internal/app"
)

func main() {
	cfgPath := flag.String("config", "./configs/local.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	a := app.New(*cfgPath)
	if err := a.Run(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "cropscan:", err)
		os.Exit(1)
	}
}
