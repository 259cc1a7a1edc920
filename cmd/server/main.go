package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/NicolasHaas/gatelog/pkg/datastore"
	"github.com/NicolasHaas/gatelog/pkg/logging"
	"github.com/NicolasHaas/gatelog/pkg/server"
	"github.com/NicolasHaas/gatelog/pkg/version"
)

func main() {
	cfg, err := server.LoadConfig("gatelog", os.Args[1:], nil)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	// Configure structured logging
	logger, err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := datastore.New(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}

	// Handle export (run and exit)
	if cfg.ExportInvites {
		defer st.Close()
		data, err := server.ExportInvitesYAML(context.Background(), st)
		if err != nil {
			logger.Error("export invites", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	logger.Info("starting gatelog", version.Build().LogAttrs()...)
	srv := server.New(cfg, server.Dependencies{Store: st, Logger: logger})
	if err := srv.Run(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
