package kernel

import (
	"github.com/joeycumines/logiface"
)

// kernelOptions holds configuration options for Kernel creation.
type kernelOptions struct {
	logger      *logiface.Logger[logiface.Event]
	sanityEvery uint64
}

// KernelOption configures a Kernel instance.
type KernelOption interface {
	applyKernel(*kernelOptions) error
}

// kernelOptionImpl implements KernelOption.
type kernelOptionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

func (o *kernelOptionImpl) applyKernel(opts *kernelOptions) error {
	return o.applyKernelFunc(opts)
}

// WithLogger sets the logger used for kernel warnings (abandoned tasks,
// nudges after close). A nil logger disables logging; that is also the
// default.
func WithLogger(logger *logiface.Logger[logiface.Event]) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSanityCheckEvery sets how many scheduling ticks elapse between
// internal bookkeeping checks. Zero keeps the default (100).
func WithSanityCheckEvery(n uint64) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if n != 0 {
			opts.sanityEvery = n
		}
		return nil
	}}
}

// resolveKernelOptions applies KernelOption instances to kernelOptions.
func resolveKernelOptions(opts []KernelOption) (*kernelOptions, error) {
	cfg := &kernelOptions{
		sanityEvery: 100, // default
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
