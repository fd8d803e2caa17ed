// Command snekrpc-server hosts a registry of services over a configured
// transport, following the teacher's flag-parse-then-dispatch main.go
// shape (_teacher_ref/server_main.go) but rebuilt around cobra the way
// the example pack's go-mizu-mizu CLI blueprint structures subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/snekrpc/snekrpc/internal/config"
	"github.com/snekrpc/snekrpc/internal/logging"
	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/server"
	"github.com/snekrpc/snekrpc/pkg/transport"
	"github.com/snekrpc/snekrpc/services/echo"
	"github.com/snekrpc/snekrpc/services/file"
	"github.com/snekrpc/snekrpc/services/health"
	"github.com/snekrpc/snekrpc/services/mathsvc"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	logging.Setup()

	var configPath string
	var listenOverride string

	root := &cobra.Command{
		Use:     "snekrpc-server",
		Short:   "Serve the built-in snekrpc services",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, listenOverride)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVarP(&listenOverride, "listen", "l", "", "override the configured listen URL")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("snekrpc-server: exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, listenOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}
	logging.SetLevel(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logging.ToFile(cfg.LogDir, 10); err != nil {
			return fmt.Errorf("configure logging: %w", err)
		}
	}

	reg := registry.New()
	mustRegister(reg, "echo", echo.New())
	mustRegister(reg, "math", mathsvc.New())
	mustRegister(reg, "health", health.New())

	fileDir := cfg.FileDir
	if fileDir == "" {
		fileDir = "."
	}
	mustRegister(reg, "file", file.New(fileDir))

	codecs := codec.Default()
	for _, name := range cfg.Codecs {
		if _, ok := codecs.Get(name); !ok {
			logrus.Warnf("snekrpc-server: unknown codec %q in config, ignoring", name)
		}
	}

	srv := server.New(reg, codecs,
		server.WithWorkers(cfg.Workers),
		server.WithHandshakeTimeout(cfg.HandshakeTimeout()),
		server.WithDebug(cfg.Debug),
		server.WithLogger(logrus.NewEntry(logrus.StandardLogger())),
	)

	ln, err := transport.Listen(cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	defer ln.Close()

	logrus.WithField("listen", cfg.Listen).Info("snekrpc-server: serving")
	scheme := schemeOf(cfg.Listen)
	return srv.Serve(ctx, ln, scheme)
}

func mustRegister(reg *registry.Registry, name string, svc *registry.Service) {
	if err := reg.Register(name, svc); err != nil {
		panic(err)
	}
}

func schemeOf(rawURL string) string {
	for i := 0; i < len(rawURL); i++ {
		if rawURL[i] == ':' {
			return rawURL[:i]
		}
	}
	return rawURL
}
