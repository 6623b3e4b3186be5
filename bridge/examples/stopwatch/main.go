// Example: Stopwatch
//
// A stopwatch running inside a host event loop (hostloop.Application),
// standing in for a GUI toolkit's. The host stays responsive while the
// embedded scheduler waits on timers and stdin in the background:
// - ticks are scheduled timers
// - each line read from stdin records a lap
// - an optional script drives extra output through setInterval
// - Ctrl+C ends the run via the scheduler's interrupt handling
//
// Run with: go run ./bridge/examples/stopwatch/ --duration 5s
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-embedloop/bridge"
	"github.com/joeycumines/go-embedloop/eventloop"
	gojaeventloop "github.com/joeycumines/go-embedloop/goja-eventloop"
	"github.com/joeycumines/go-embedloop/hostloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"
)

var (
	duration time.Duration
	interval time.Duration
	script   string
	verbose  bool
)

var flags = []cli.Flag{
	cli.DurationFlag{
		Name:        "duration, d",
		Usage:       "stop after this long (0 runs until Ctrl+C)",
		Destination: &duration,
	},
	cli.DurationFlag{
		Name:        "interval, i",
		Usage:       "time between ticks",
		Value:       time.Second,
		Destination: &interval,
	},
	cli.StringFlag{
		Name:        "script, s",
		Usage:       "JavaScript to run alongside the stopwatch",
		Destination: &script,
	},
	cli.BoolFlag{
		Name:        "verbose, v",
		Usage:       "enable debug logging",
		Destination: &verbose,
	},
}

func main() {
	app := cli.App{
		Name:     "Stopwatch",
		HelpName: "stopwatch",
		Usage:    "A stopwatch embedded in a host event loop.",
		Flags:    flags,
		Action:   run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(*cli.Context) error {
	level := logiface.LevelInformational
	if verbose {
		level = logiface.LevelDebug
	}
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	host, err := hostloop.NewApplication(hostloop.WithLogger(logger))
	if err != nil {
		return err
	}
	defer host.Close()

	s, err := bridge.New(
		bridge.WithLogger(logger),
		bridge.WithLoopOptions(eventloop.WithInterruptSignals(os.Interrupt)),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	err = bridge.Using(s, func() error {
		sw := &stopwatch{s: s, host: host, start: time.Now()}
		if err := sw.startTicking(); err != nil {
			return err
		}
		sw.watchStdin(logger)
		if script != "" {
			if err := sw.runScript(); err != nil {
				return err
			}
		}
		if duration > 0 {
			host.AfterFunc(duration, func() { host.Exit(0) })
		}
		// host-side work, interleaved with the scheduler's steps
		heartbeat(host, logger)

		code := host.Exec()
		fmt.Printf("stopped at %v, %d laps\n", sw.elapsed(), sw.laps)
		if code != 0 && host.Err() == nil {
			return cli.NewExitError("host loop failed", code)
		}
		return nil
	})
	if errors.Is(err, eventloop.ErrInterrupted) {
		return cli.NewExitError("interrupted", 130)
	}
	return err
}

type stopwatch struct {
	s     *bridge.Scheduler
	host  *hostloop.Application
	start time.Time
	laps  int
}

func (x *stopwatch) elapsed() time.Duration {
	return time.Since(x.start).Round(time.Millisecond)
}

func (x *stopwatch) startTicking() error {
	var tick func() error
	tick = func() error {
		fmt.Printf("tick %v\n", x.elapsed())
		_, err := x.s.ScheduleAfter(interval, tick)
		return err
	}
	_, err := x.s.ScheduleAfter(interval, tick)
	return err
}

// watchStdin records a lap for each read from stdin, if it can be polled.
func (x *stopwatch) watchStdin(logger *logiface.Logger[logiface.Event]) {
	fd := int(os.Stdin.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		logger.Warning().Err(err).Log("stdin laps disabled")
		return
	}
	err := x.s.RegisterFD(fd, eventloop.EventRead, func(events eventloop.IOEvents) error {
		var buf [512]byte
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || events&eventloop.EventHangup != 0 {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			logger.Info().Log("stdin closed")
			return x.s.UnregisterFD(fd)
		}
		x.laps++
		fmt.Printf("lap %d %v\n", x.laps, x.elapsed())
		return nil
	})
	if err != nil {
		logger.Warning().Err(err).Log("stdin laps disabled")
	}
}

func (x *stopwatch) runScript() error {
	rt := goja.New()
	adapter, err := gojaeventloop.New(x.s, rt)
	if err != nil {
		return err
	}
	if err := adapter.Bind(); err != nil {
		return err
	}
	_, err = adapter.RunString(script)
	return err
}

func heartbeat(host *hostloop.Application, logger *logiface.Logger[logiface.Event]) {
	var beat func()
	beat = func() {
		logger.Debug().Int("depth", host.Depth()).Log("host heartbeat")
		host.AfterFunc(250*time.Millisecond, beat)
	}
	host.AfterFunc(250*time.Millisecond, beat)
}
