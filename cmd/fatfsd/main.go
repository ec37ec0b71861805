// Command fatfsd mounts a FAT12/16/32 volume, the fleet's secondary
// example server (SPEC_FULL.md §5.13). Shares extfsd's cobra/config/
// transport wiring; the only FAT-specific addition is that per-file
// ownership isn't stored on disk, so uid/gid are threaded into the
// Server as mount-wide defaults rather than read back from a device.
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
	"github.com/Marvenlee/cheviot-filesystems/internal/fatfs"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsdispatch"
	"github.com/Marvenlee/cheviot-filesystems/internal/logger"
	"github.com/Marvenlee/cheviot-filesystems/internal/transport"
)

func main() {
	cfg := config.Defaults()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "fatfsd [flags] <mount-path> <device-path>",
		Short: "Mount a FAT12/16/32 volume as a userspace filesystem server",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if err := config.LoadFile(cfgFile, &cfg); err != nil {
				return err
			}
			if err := cfg.ParsePositional(args); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	config.BindFlags(cmd.Flags(), &cfg)
	cmd.Flags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := logger.New(os.Stderr, cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))

	dev, err := blockdev.Open(cfg.DevicePath, cfg.ReadOnly)
	if err != nil {
		return err
	}
	defer dev.Close()

	vol, err := fatfs.Mount(dev, cfg.CacheBlocks)
	if err != nil {
		return fmt.Errorf("fatfsd: mounting %s: %w", cfg.DevicePath, err)
	}
	handler := fatfs.NewServer(vol, cfg.UID, cfg.GID)

	ln, err := transport.Listen(cfg.MountPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Infof("fatfsd: serving %s (%s) at %s", cfg.DevicePath, vol.Derived.Type, cfg.MountPath)

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
			return fmt.Errorf("fatfsd: accept: %w", err)
		}
		conn := transport.NewConn(c)
		go func() {
			defer conn.Close()
			if err := fsdispatch.Run(ctx, handler, conn, vol, flushInterval, log); err != nil {
				log.Errorf("fatfsd: connection %s: %v", conn.ID(), err)
			}
		}()
	}
}
