// Command devfsd serves the synthetic device registry, a single
// flat directory of device nodes drivers register via MKNOD at
// startup with no backing storage (SPEC_FULL.md §5.14). Unlike
// extfsd/fatfsd, it takes no device-path argument: there is nothing to
// mount, only a registry to serve.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Marvenlee/cheviot-filesystems/internal/config"
	"github.com/Marvenlee/cheviot-filesystems/internal/devfs"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsdispatch"
	"github.com/Marvenlee/cheviot-filesystems/internal/logger"
	"github.com/Marvenlee/cheviot-filesystems/internal/transport"
)

func main() {
	cfg := config.Defaults()
	var cfgFile string
	var capacity int

	cmd := &cobra.Command{
		Use:   "devfsd [flags] <mount-path>",
		Short: "Serve the synthetic device registry as a userspace filesystem server",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := config.LoadFile(cfgFile, &cfg); err != nil {
				return err
			}
			cfg.MountPath = args[0]
			return run(cfg, capacity)
		},
	}

	config.BindFlags(cmd.Flags(), &cfg)
	cmd.Flags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	cmd.Flags().IntVar(&capacity, "capacity", 128, "maximum number of registered device nodes, including the root directory slot")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, capacity int) error {
	log := logger.New(os.Stderr, cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))

	handler := devfs.NewServer(capacity)

	ln, err := transport.Listen(cfg.MountPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Infof("devfsd: serving the device registry at %s", cfg.MountPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	flushInterval := fsdispatch.DefaultFlushInterval
	if cfg.FlushIntervalSeconds > 0 {
		flushInterval = time.Duration(cfg.FlushIntervalSeconds) * time.Second
	}

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("devfsd: accept: %w", err)
		}
		conn := transport.NewConn(c)
		go func() {
			defer conn.Close()
			if err := fsdispatch.Run(ctx, handler, conn, handler, flushInterval, log); err != nil {
				log.Errorf("devfsd: connection %s: %v", conn.ID(), err)
			}
		}()
	}
}
