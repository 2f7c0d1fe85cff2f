// Command uniko runs the multi-network IRC bridge described by a YAML
// configuration profile.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/puzzlet/uniko/config"
	"github.com/puzzlet/uniko/supervisor"
)

var (
	debug   = flag.Bool("debug", false, "log at debug level")
	logFile = flag.String("log-file", "", "rotate logs into this file in addition to stderr")
)

func main() {
	profile := "config"
	for _, arg := range os.Args[1:] {
		if len(arg) > 0 && arg[0] != '-' {
			profile = arg
			break
		}
	}
	flag.Parse()
	path := profile + ".yaml"
	if exe, err := os.Executable(); err == nil {
		path = filepath.Join(filepath.Dir(exe), path)
	}

	log, err := supervisor.NewLogger(*debug, *logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "uniko: logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal("loading configuration", zap.String("path", path), zap.Error(err))
	}

	s, err := supervisor.BuildFromConfig(cfg, log)
	if err != nil {
		log.Fatal("building supervisor from configuration", zap.Error(err))
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		log.Fatal("attaching configuration watcher", zap.Error(err))
	}
	s.AttachWatcher(watcher)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s.ConnectAll(ctx)
	log.Info("uniko is up", zap.String("profile", profile))

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("supervisor run loop exited", zap.Error(err))
	}
	log.Info("uniko shutting down")
}
