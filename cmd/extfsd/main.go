// Command extfsd mounts an ext2 volume, the fleet's core server
// (SPEC_FULL.md §4). Patterned on cmd/root.go's cobra-driven flag/config
// wiring, reshaped around the shared `<server> [flags] <mount-path>
// <device-path>` surface every server in the fleet uses (§6.3).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockdev"
	"github.com/Marvenlee/cheviot-filesystems/internal/config"
	"github.com/Marvenlee/cheviot-filesystems/internal/endian"
	"github.com/Marvenlee/cheviot-filesystems/internal/ext2"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsdispatch"
	"github.com/Marvenlee/cheviot-filesystems/internal/logger"
	"github.com/Marvenlee/cheviot-filesystems/internal/transport"
)

func main() {
	cfg := config.Defaults()
	var cfgFile string
	var forceSwap bool

	cmd := &cobra.Command{
		Use:   "extfsd [flags] <mount-path> <device-path>",
		Short: "Mount an ext2 volume as a userspace filesystem server",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if err := config.LoadFile(cfgFile, &cfg); err != nil {
				return err
			}
			if err := cfg.ParsePositional(args); err != nil {
				return err
			}
			return run(cfg, forceSwap)
		},
	}

	config.BindFlags(cmd.Flags(), &cfg)
	cmd.Flags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&forceSwap, "force-byte-swap", false, "force big-endian-on-disk interpretation regardless of host endianness")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, forceSwap bool) error {
	log := logger.New(os.Stderr, cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))

	dev, err := blockdev.Open(cfg.DevicePath, cfg.ReadOnly)
	if err != nil {
		return err
	}
	defer dev.Close()

	// The on-disk format is little-endian, so fields are swapped on a
	// big-endian host; --force-byte-swap inverts that choice.
	swap := endian.BigEndian() != forceSwap
	vol, err := ext2.Mount(dev, swap, cfg.CacheBlocks)
	if err != nil {
		return fmt.Errorf("extfsd: mounting %s: %w", cfg.DevicePath, err)
	}
	if cfg.ReadOnly {
		vol.ReadOnly = true
	}
	handler := ext2.NewServer(vol)

	ln, err := transport.Listen(cfg.MountPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Infof("extfsd: serving %s at %s", cfg.DevicePath, cfg.MountPath)

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
			return fmt.Errorf("extfsd: accept: %w", err)
		}
		conn := transport.NewConn(c)
		go func() {
			defer conn.Close()
			if err := fsdispatch.Run(ctx, handler, conn, vol, flushInterval, log); err != nil {
				log.Errorf("extfsd: connection %s: %v", conn.ID(), err)
			}
		}()
	}
}
