// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"errors"
	"os"
	"time"

	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	selector         Selector
	logger           *logiface.Logger[logiface.Event]
	exceptionHandler ExceptionHandler
	errorRates       map[time.Duration]int
	scheduleHook     func()
	signals          []os.Signal
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithSelector sets the [Selector] the loop polls. Ownership passes to the
// loop, which closes it on [Loop.Close]. Defaults to [NewDefaultSelector].
func WithSelector(selector Selector) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if selector == nil {
			return errors.New("eventloop: nil selector")
		}
		opts.selector = selector
		return nil
	}}
}

// WithLogger sets the structured logger, used by the default exception
// handler. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithExceptionHandler replaces the default exception handler, which logs.
func WithExceptionHandler(handler ExceptionHandler) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.exceptionHandler = handler
		return nil
	}}
}

// WithErrorRateLimits configures the rate limits applied by the default
// exception handler, per error category (the ErrorContext message). A nil
// or empty map disables rate limiting.
func WithErrorRateLimits(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.errorRates = rates
		if opts.errorRates == nil {
			opts.errorRates = map[time.Duration]int{}
		}
		return nil
	}}
}

// WithScheduleHook registers fn to be called, on the loop goroutine, before
// each callback is scheduled by ScheduleNow, ScheduleAfter, or ScheduleAt.
// Drivers that park the loop's wait on another goroutine use this to force
// that wait to return.
func WithScheduleHook(fn func()) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.scheduleHook = fn
		return nil
	}}
}

// WithInterruptSignals installs handlers, for the duration of each run, that
// raise a fatal error when one of the given signals arrives: [ErrInterrupted]
// for os.Interrupt, an [*ExitError] otherwise.
func WithInterruptSignals(signals ...os.Signal) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.signals = append(opts.signals, signals...)
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		errorRates: defaultErrorRates(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
