package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/comm/file"
	"github.com/bamsammich/commdev/internal/config"
	"github.com/bamsammich/commdev/internal/event"
	"github.com/bamsammich/commdev/internal/stats"
	"github.com/bamsammich/commdev/internal/ui"
)

type connectOpts struct {
	writeRate    string
	pollInterval time.Duration
	drainTimeout time.Duration
	linger       time.Duration
	readSize     int
	raw          bool
}

func newConnectCmd(g *globalOpts) *cobra.Command {
	var o connectOpts

	cmd := &cobra.Command{
		Use:   "connect ENDPOINT",
		Short: "Open a channel and pump stdin to the device and the device to stdout",
		Long: `Open a channel on ENDPOINT after checking it against every configured
endpoint. Bytes from stdin are queued to the device in order; bytes from
the device are copied to stdout. The session ends on device EOF, on
SIGINT/SIGTERM, or once stdin is exhausted and flushed (plus --linger).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, g, o, args[0])
		},
	}

	cmd.Flags().
		DurationVar(&o.pollInterval, "poll-interval", file.DefaultPollInterval, "readiness poll interval")
	cmd.Flags().
		DurationVar(&o.drainTimeout, "drain-timeout", file.DefaultDrainTimeout, "how long close waits for queued writes")
	cmd.Flags().
		StringVar(&o.writeRate, "write-rate", "", "cap device writes (e.g. 11K for 115200 baud)")
	cmd.Flags().
		DurationVar(&o.linger, "linger", 0, "keep reading this long after stdin reaches EOF")
	cmd.Flags().IntVar(&o.readSize, "read-size", 4096, "maximum bytes per device read")
	cmd.Flags().BoolVar(&o.raw, "raw", false, "put a terminal stdin into raw mode")

	return cmd
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults config.ChannelConfig, o *connectOpts) error {
	if !cmd.Flags().Changed("poll-interval") {
		d, err := defaults.PollIntervalValue()
		if err != nil {
			return err
		}
		if d > 0 {
			o.pollInterval = d
		}
	}
	if !cmd.Flags().Changed("drain-timeout") {
		d, err := defaults.DrainTimeoutValue()
		if err != nil {
			return err
		}
		if d > 0 {
			o.drainTimeout = d
		}
	}
	if !cmd.Flags().Changed("write-rate") && defaults.WriteRate != nil {
		o.writeRate = *defaults.WriteRate
	}
	return nil
}

//nolint:revive // cognitive-complexity: connect orchestrates validation, logging and the pump
func runConnect(cmd *cobra.Command, g *globalOpts, o connectOpts, arg string) error {
	target, err := g.resolve(arg)
	if err != nil {
		return err
	}
	if err := applyConfigDefaults(cmd, g.cfg.Channel, &o); err != nil {
		return err
	}
	if o.readSize <= 0 {
		return fmt.Errorf("invalid --read-size %d", o.readSize)
	}

	var writeRate int64
	if o.writeRate != "" {
		writeRate, err = config.ParseSize(o.writeRate)
		if err != nil {
			return fmt.Errorf("invalid --write-rate: %w", err)
		}
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 64)

	reg, err := newRegistry(
		file.WithPollInterval(o.pollInterval),
		file.WithDrainTimeout(o.drainTimeout),
		file.WithWriteRate(writeRate),
		file.WithStats(collector),
		file.WithEvents(events),
	)
	if err != nil {
		return err
	}

	// The target must not alias any other configured endpoint.
	hosts := []comm.Endpoint{target}
	for _, ep := range g.cfg.Endpoints {
		if ep != target {
			hosts = append(hosts, ep)
		}
	}
	var good, conflict, wrong []comm.Endpoint
	reg.Check(hosts, &good, &conflict, &wrong)
	switch {
	case slices.Contains(conflict, target):
		return fmt.Errorf("endpoint %s shares a file with another configured endpoint", target)
	case slices.Contains(wrong, target):
		return fmt.Errorf("endpoint %s is missing or not writable", target)
	}

	ch, err := reg.NewChannel(target)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.raw && ui.IsTTY(os.Stdin.Fd()) {
		restore, err := ui.MakeRaw(os.Stdin.Fd())
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer restore() //nolint:errcheck // best-effort terminal restore
	}

	logged := make(chan struct{})
	go func() {
		defer close(logged)
		for ev := range events {
			logEvent(ev)
		}
	}()

	go tickStats(ctx, collector)

	slog.Debug("connecting", "endpoint", target.String(), "poll_interval", o.pollInterval,
		"write_rate", writeRate)
	err = comm.Use(ctx, ch, func(ch comm.Channel) error {
		return pump(ctx, ch, os.Stdin, cmd.OutOrStdout(), o.readSize, o.linger)
	})
	close(events)
	<-logged

	if g.verbose {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.Summary(collector.Snapshot()))
	}
	return err
}

// pump copies in to the channel and the channel to out. It returns when
// the device reports EOF, ctx is done, or in is exhausted and flushed and
// linger has elapsed.
func pump(
	ctx context.Context,
	ch comm.Channel,
	in io.Reader,
	out io.Writer,
	readSize int,
	linger time.Duration,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Not joined: a blocked stdin read cannot be interrupted.
	inDone := make(chan error, 1)
	go func() { inDone <- copyIn(ch, in) }()

	outDone := make(chan error, 1)
	go func() { outDone <- copyOut(ctx, ch, out, readSize) }()

	select {
	case err := <-outDone:
		return quiet(err)
	case err := <-inDone:
		if err != nil {
			cancel()
			return multierr.Append(err, quiet(<-outDone))
		}
	}

	flushErr := ch.Flush(ctx)
	if linger > 0 && flushErr == nil {
		timer := time.AfterFunc(linger, cancel)
		defer timer.Stop()
	} else {
		cancel()
	}
	return multierr.Append(quiet(flushErr), quiet(<-outDone))
}

func copyIn(ch comm.Channel, in io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if werr := ch.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}
}

func copyOut(ctx context.Context, ch comm.Channel, out io.Writer, readSize int) error {
	for {
		buf, err := ch.Read(ctx, readSize)
		if err != nil {
			return err
		}
		if _, err := out.Write(buf); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
	}
}

// quiet drops the errors that mark a normal end of session.
func quiet(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, file.ErrClosed) {
		return nil
	}
	return err
}

func logEvent(ev event.Event) {
	level := slog.LevelDebug
	switch ev.Type {
	case event.WriteFailed, event.ReadFailed:
		level = slog.LevelError
	case event.WritesDropped, event.EndpointConflict, event.EndpointWrong:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("type", ev.Type.String()),
		slog.String("host", ev.Host),
		slog.String("path", ev.Path),
	}
	if ev.Session != "" {
		attrs = append(attrs, slog.String("session", ev.Session))
	}
	if ev.Size > 0 {
		attrs = append(attrs, slog.Int64("size", ev.Size))
	}
	if ev.Error != nil {
		attrs = append(attrs, slog.String("error", ev.Error.Error()))
	}
	slog.LogAttrs(context.Background(), level, "commdev.event", attrs...)
}

// tickStats samples write throughput once a second until ctx is done.
func tickStats(ctx context.Context, c *stats.Collector) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
			slog.Debug("throughput", "write", ui.FormatRate(c.RollingWriteSpeed(5)),
				"pending", c.Snapshot().Pending())
		}
	}
}
