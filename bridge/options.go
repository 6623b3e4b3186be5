// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package bridge

import (
	"github.com/joeycumines/go-embedloop/eventloop"
	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	host        Host
	logger      *logiface.Logger[logiface.Event]
	selector    eventloop.Selector
	loopOptions []eventloop.LoopOption
}

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements Option.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithHost sets the host loop. By default, the process-wide
// hostloop.Application is used, resolved each time the scheduler is run.
func WithHost(host Host) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.host = host
		return nil
	}}
}

// WithLogger sets the logger, which is also passed to the underlying loop.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSelector sets the selector wrapped by the scheduler's
// YieldingSelector. Defaults to [eventloop.NewDefaultSelector].
func WithSelector(selector eventloop.Selector) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.selector = selector
		return nil
	}}
}

// WithLoopOptions passes options through to the underlying eventloop.Loop.
// The loop's selector and schedule hook are managed by the scheduler, and
// may not be overridden.
func WithLoopOptions(options ...eventloop.LoopOption) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.loopOptions = append(opts.loopOptions, options...)
		return nil
	}}
}

// resolveSchedulerOptions applies Option instances to schedulerOptions.
func resolveSchedulerOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
