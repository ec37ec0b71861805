// Command ifsd serves a read-only in-memory bootstrap image: the
// filesystem mounted as process 1's root before any other server has
// started (SPEC_FULL.md §5.14). original_source/ifs/init.c receives
// this image as a kernel-mapped physical memory region handed to
// process 1 at startup; a userspace Go process has no such handoff, so
// ifsd instead reads the image from a file path (see DESIGN.md).
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
	"github.com/Marvenlee/cheviot-filesystems/internal/fsdispatch"
	"github.com/Marvenlee/cheviot-filesystems/internal/ifs"
	"github.com/Marvenlee/cheviot-filesystems/internal/logger"
	"github.com/Marvenlee/cheviot-filesystems/internal/transport"
)

func main() {
	cfg := config.Defaults()
	var cfgFile, imagePath string

	cmd := &cobra.Command{
		Use:   "ifsd [flags] <mount-path> <image-path>",
		Short: "Serve a bootstrap image as a read-only userspace filesystem server",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if err := config.LoadFile(cfgFile, &cfg); err != nil {
				return err
			}
			cfg.MountPath = args[0]
			imagePath = args[1]
			return run(cfg, imagePath)
		},
	}

	config.BindFlags(cmd.Flags(), &cfg)
	cmd.Flags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, imagePath string) error {
	log := logger.New(os.Stderr, cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("ifsd: reading image %s: %w", imagePath, err)
	}
	handler, err := ifs.Load(image)
	if err != nil {
		return fmt.Errorf("ifsd: loading image %s: %w", imagePath, err)
	}

	ln, err := transport.Listen(cfg.MountPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Infof("ifsd: serving %s at %s", imagePath, cfg.MountPath)

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
			return fmt.Errorf("ifsd: accept: %w", err)
		}
		conn := transport.NewConn(c)
		go func() {
			defer conn.Close()
			if err := fsdispatch.Run(ctx, handler, conn, handler, flushInterval, log); err != nil {
				log.Errorf("ifsd: connection %s: %v", conn.ID(), err)
			}
		}()
	}
}
