package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"github.com/tlmanz/godup"
	"go.uber.org/multierr"
)

// allowWriteEnv must be set to "1" before godup touches any destination.
const allowWriteEnv = "GODUP_ALLOW_WRITE"

var errCancelled = errors.New("copy cancelled")

// Options holds the command-line configuration for one run.
type Options struct {
	Source      string
	Zero        bool
	Length      int64
	BufferSize  int
	PoolSize    int
	QueueSize   int
	MaxAttempts int
	Verbose     bool
	Force       bool
}

// parseFlags parses command-line flags into Options and returns the remaining
// non-flag arguments (the destinations).
func parseFlags(args []string) (Options, []string, error) {
	fs := flag.NewFlagSet("godup", flag.ContinueOnError)
	defaults := godup.DefaultConfig()
	opts := Options{}

	fs.StringVar(&opts.Source, "source", "", "device or image to copy from")
	fs.BoolVar(&opts.Zero, "zero", false, "write zeroes instead of copying a source")
	fs.Int64Var(&opts.Length, "length", 0, "bytes to copy (default: smallest of source and destinations)")
	fs.IntVar(&opts.BufferSize, "buffer-size", defaults.BufferSize, "size of each transfer buffer in bytes")
	fs.IntVar(&opts.PoolSize, "pool-size", defaults.PoolSize, "number of transfer buffers")
	fs.IntVar(&opts.QueueSize, "queue-size", defaults.QueueSize, "buffers queued per destination")
	fs.IntVar(&opts.MaxAttempts, "retries", defaults.MaxAttempts, "write attempts per buffer and destination")
	fs.BoolVar(&opts.Verbose, "v", false, "verbose mode")
	fs.BoolVar(&opts.Force, "force", false, "copy even when the destinations are smaller than the source")

	if err := fs.Parse(args[1:]); err != nil {
		return Options{}, nil, err
	}
	return opts, fs.Args(), nil
}

// run is the CLI entrypoint; it writes progress to out.
func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	opts, targets, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no destinations given")
	}
	if opts.Zero == (opts.Source != "") {
		return fmt.Errorf("exactly one of -source or -zero is required")
	}
	if opts.Length < 0 {
		return fmt.Errorf("negative length %d", opts.Length)
	}
	if os.Getenv(allowWriteEnv) != "1" {
		return fmt.Errorf("writing to destinations is protected; set %s=1 to enable", allowWriteEnv)
	}
	if opts.Verbose {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	src, srcSize, err := openSource(opts)
	if err != nil {
		return err
	}

	dsts := make([]io.WriteCloser, 0, len(targets))
	sizes := make([]int64, 0, len(targets))
	for _, path := range targets {
		dst, err := godup.OpenDestination(path)
		if err != nil {
			return multierr.Append(err, closeAll(src, dsts))
		}
		dsts = append(dsts, dst)
		sizes = append(sizes, dst.Size)
	}

	length := godup.TransferLength(srcSize, sizes...)
	if opts.Length > 0 {
		if opts.Length > length {
			return multierr.Append(fmt.Errorf("length %d exceeds the %d bytes available", opts.Length, length), closeAll(src, dsts))
		}
		length = opts.Length
	} else if !opts.Zero && godup.SizeMismatch(srcSize, length) && !opts.Force {
		return multierr.Append(
			fmt.Errorf("destinations hold only %d of %d source bytes; use -force to copy anyway", length, srcSize),
			closeAll(src, dsts),
		)
	}

	cfg := godup.DefaultConfig()
	cfg.BufferSize = opts.BufferSize
	cfg.PoolSize = opts.PoolSize
	cfg.QueueSize = opts.QueueSize
	cfg.MaxAttempts = opts.MaxAttempts
	cfg.Verbose = opts.Verbose
	cfg.ProgressFunc = func(info godup.ProgressInfo) {
		fmt.Fprintf(out, "\r%5.1f%%  %d/%d bytes  %.1f MB/s", info.Percentage, info.ReadBytes, info.Total, info.BytesPerSecond/1e6)
	}

	m, err := godup.NewMultiplexer(src, dsts, length, cfg)
	if err != nil {
		return multierr.Append(err, closeAll(src, dsts))
	}

	log.G(ctx).WithFields(log.Fields{
		"id":           m.ID(),
		"destinations": len(dsts),
		"length":       length,
	}).Info("copying")

	err = m.Start(ctx)
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if m.IsCancelled() {
		return fmt.Errorf("%w after %d of %d bytes", errCancelled, m.ReadBytes(), length)
	}
	fmt.Fprintf(out, "copied %d bytes to %d destinations\n", length, len(dsts))
	return nil
}

// openSource returns the source reader and its size. The zero source has no
// size of its own; it reports the largest possible one so the destinations decide.
func openSource(opts Options) (io.ReadCloser, int64, error) {
	if opts.Zero {
		return godup.ZeroSource(), 1<<63 - 1, nil
	}
	src, err := godup.OpenSource(opts.Source)
	if err != nil {
		return nil, 0, err
	}
	return src, src.Size, nil
}

func closeAll(src io.Closer, dsts []io.WriteCloser) error {
	err := src.Close()
	for _, d := range dsts {
		err = multierr.Append(err, d.Close())
	}
	return err
}
