package hostloop

import (
	"github.com/joeycumines/logiface"
)

// applicationOptions holds configuration options for Application creation.
type applicationOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures an Application.
type Option interface {
	applyApplication(*applicationOptions) error
}

type applicationOptionImpl struct {
	applyApplicationFunc func(*applicationOptions) error
}

func (o *applicationOptionImpl) applyApplication(opts *applicationOptions) error {
	return o.applyApplicationFunc(opts)
}

// WithLogger sets the logger used to report panics in posted callbacks.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &applicationOptionImpl{func(opts *applicationOptions) error {
		opts.logger = logger
		return nil
	}}
}

func resolveApplicationOptions(opts []Option) (*applicationOptions, error) {
	cfg := &applicationOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyApplication(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
