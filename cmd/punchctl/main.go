package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"attendance-punch/config"
	"attendance-punch/internal/db"
	"attendance-punch/internal/logging"
	"attendance-punch/internal/punch"
	"attendance-punch/internal/store"
)

const usage = `Usage:
  punchctl [-config path] checkin            Submit a check-in
  punchctl [-config path] checkout           Submit a check-out
  punchctl [-config path] analyze            Show bearer token expiry
  punchctl [-config path] update <token>     Store a new bearer token and test it
  punchctl [-config path] import <file>      Import a JSON cookie bundle
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// A missing .env file is fine.
	_ = godotenv.Load()

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml"
	}

	fs := flag.NewFlagSet("punchctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", defaultPath, "configuration file")
	noTest := fs.Bool("no-test", false, "skip the test check-in after update")
	verbose := fs.Bool("v", false, "log every request attempt")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.NewWithOutput(level, zerolog.ConsoleWriter{Out: stderr})
	cfg := config.LoadOrDefault(*configPath, logger)

	gormDB, err := db.Init(&cfg.Storage, logger)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open credential storage: %v\n", err)
		return 1
	}
	appStore := store.NewGormStore(gormDB)

	refresher := &punch.HTTPRefresher{
		URL:       cfg.Endpoint.RefreshURL,
		UserAgent: cfg.Endpoint.Headers["User-Agent"],
		Timeout:   cfg.Service.Timeout,
		Transport: punch.NewTransport(cfg.Endpoint.HTTPProxy, logger),
	}
	a := &app{
		store:     appStore,
		submitter: punch.NewSubmitter(cfg, appStore, refresher, logger),
		out:       stdout,
	}
	return a.dispatch(context.Background(), fs.Args(), !*noTest, stderr)
}

func (a *app) dispatch(ctx context.Context, args []string, test bool, stderr io.Writer) int {
	cmd := strings.ToLower(args[0])
	switch cmd {
	case "analyze", "check", "jwt":
		return a.analyze(ctx)
	case "update":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			fmt.Fprint(stderr, usage)
			return 2
		}
		return a.update(ctx, strings.TrimSpace(args[1]), test)
	case "import":
		if len(args) != 2 {
			fmt.Fprint(stderr, usage)
			return 2
		}
		return a.importCookies(ctx, args[1])
	}

	action, err := punch.ParseAction(cmd)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n\n%s", err, usage)
		return 2
	}
	return a.punch(ctx, action)
}
