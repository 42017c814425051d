package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/pkg/config"
	"github.com/marmos91/nxfs/pkg/napi"
)

// env is what every command runs against.
type env struct {
	api   *napi.API
	cfg   *config.Config
	out   io.Writer
	flags napi.AccessMode
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"init":        {"init [-force] [-path file]", "write a default configuration file", runInit},
	"info":        {"info <file>", "show the backend and root attributes of a file", runInfo},
	"ls":          {"ls [-r] <file> [path]", "list a group, following mounts", runLs},
	"cat":         {"cat <file> <path>", "print a dataset and its attributes", runCat},
	"mkfile":      {"mkfile [-format kv|yaml|xml] <file>", "create an empty file", runMkfile},
	"link":        {"link [-dataset] [-class NXclass] <file> <group> <name> <url>", "create an external link", runLink},
	"import-fits": {"import-fits [-entry name] [-format kv|yaml|xml] <in.fits> <file>", "convert a FITS file", runImportFITS},
	"export-fits": {"export-fits <file> <path> <out.fits>", "write a dataset as a FITS image", runExportFITS},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: nxtool [-config file] [-log-level level] <command> [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-60s %s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/nxfs/config.yaml)")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR), overrides the config file")
	linger := flag.Duration("metrics-linger", 0, "Keep serving metrics this long after the command finishes")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "nxtool: unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cmd, *configPath, *logLevel, *linger, flag.Args()[1:]); err != nil {
		logger.Error("%s: %v", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd command, configPath, logLevel string, linger time.Duration, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.ConfigureLogging(cfg); err != nil {
		return err
	}

	api, m, err := config.BuildAPI(ctx, cfg)
	if err != nil {
		return err
	}

	var serverDone chan error
	if m.Server != nil {
		serverCtx, stop := context.WithCancel(ctx)
		defer stop()
		serverDone = make(chan error, 1)
		go func() { serverDone <- m.Server.Start(serverCtx) }()
		defer func() {
			if linger > 0 {
				logger.Info("Serving metrics for %v", linger)
				select {
				case <-time.After(linger):
				case <-ctx.Done():
				}
			}
			stop()
			if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("metrics server: %v", err)
			}
		}()
	}

	return cmd.run(ctx, &env{api: api, cfg: cfg, out: os.Stdout, flags: cfg.OpenFlags()}, args)
}
