package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeRemmich/AutoHotKey/internal/client/cli"
	"github.com/JakeRemmich/AutoHotKey/internal/client/clientconfig"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := clientconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := run(ctx, app, os.Args[1:])
	_ = app.Close()
	os.Exit(code)
}

func run(ctx context.Context, app *cli.App, args []string) int {
	err := app.Run(ctx, args)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cli.ErrUsage):
		app.Usage()
		return 2
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
