// Package main is the entrypoint for meshd, the mesh runtime daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/morezero/meshrt/internal/config"
	"github.com/morezero/meshrt/pkg/session"
	"github.com/morezero/meshrt/pkg/wire"
)

const usage = `Usage: meshd [command]
       meshd serve    Start the mesh runtime (default).
       meshd version  Print the protocol version this build implements.

Commands:
  serve    (default) Start meshd: bind listen endpoints, serve the local
           ServiceDirectory, accept peer connections.
  version  Print protocol version and build compatibility constraint.

Environment: MESH_LISTEN_ENDPOINTS (default "tcp://0.0.0.0:9559"),
MESH_DIRECTORY_ENDPOINT, MESH_EXECUTOR_WORKERS, MESH_CONNECT_TIMEOUT,
MESH_COMPRESS_THRESHOLD_BYTES, MESH_PROTOCOL_VERSION, LOG_LEVEL.
`

const logPrefix = "meshd:main"

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "version":
		fmt.Printf("meshd: wire protocol %d, build constraint %s\n", wire.CurrentProtocolVersion, wire.ProtocolConstraint)
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := run(); err != nil {
		log.Fatalf("meshd: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	if err := wire.CheckBuildVersion(cfg.ProtocolVersion); err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - starting meshd", logPrefix), "service_name", cfg.ServiceName)

	sess, err := session.New(session.Config{
		ServiceName:            cfg.ServiceName,
		ListenEndpoints:        cfg.ListenEndpoints,
		ExecutorWorkers:        cfg.ExecutorWorkers,
		ConnectTimeout:         cfg.ConnectTimeout,
		CompressThresholdBytes: cfg.CompressThresholdBytes,
	})
	if err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}

	pub, err := sess.PublicKey()
	if err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - session ready", logPrefix), "session_id", sess.ID(), "machine_id", sess.MachineID(), "identity", pub)

	return sess.Serve(context.Background())
}
