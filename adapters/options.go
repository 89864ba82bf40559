package adapters

import (
	"github.com/joeycumines/logiface"
)

// adapterOptions holds configuration options for adapter creation.
type adapterOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures a File or Socket.
type Option interface {
	applyAdapter(*adapterOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyAdapterFunc func(*adapterOptions) error
}

func (o *optionImpl) applyAdapter(opts *adapterOptions) error {
	return o.applyAdapterFunc(opts)
}

// WithLogger sets the logger used for adapter warnings, notably a close
// that could not deregister cleanly. A nil logger disables logging; that
// is also the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *adapterOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to adapterOptions.
func resolveOptions(opts []Option) (*adapterOptions, error) {
	cfg := &adapterOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyAdapter(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
