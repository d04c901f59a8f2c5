package providers

import (
	"time"

	"github.com/keeperhq/recoveryd/internal/pkg/validator"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	defaultWeight     = 1
)

// Descriptor is the immutable identity of a registered RPC provider.
// Priority orders providers (lower wins), Weight breaks priority ties
// (higher wins).
type Descriptor struct {
	Name       string `validate:"required"`
	URL        string `validate:"required,url"`
	Priority   int    `validate:"gte=1"`
	Weight     int    `validate:"gte=1"`
	Timeout    time.Duration
	MaxRetries uint
	Enabled    bool
}

// DescriptorOption adjusts optional descriptor fields.
type DescriptorOption func(*Descriptor)

// WithWeight sets the tie-break weight. Default: 1.
func WithWeight(w int) DescriptorOption {
	return func(d *Descriptor) {
		d.Weight = w
	}
}

// WithTimeout bounds every call made through this provider. Default:
// 5s.
func WithTimeout(t time.Duration) DescriptorOption {
	return func(d *Descriptor) {
		d.Timeout = t
	}
}

// WithMaxRetries sets the per-provider attempt budget for read
// operations, including the first try. Default: 3.
func WithMaxRetries(n uint) DescriptorOption {
	return func(d *Descriptor) {
		d.MaxRetries = n
	}
}

// Disabled registers the provider without making it eligible for
// probing or selection.
func Disabled() DescriptorOption {
	return func(d *Descriptor) {
		d.Enabled = false
	}
}

// NewDescriptor builds and validates a Descriptor.
func NewDescriptor(name, url string, priority int, opts ...DescriptorOption) (Descriptor, error) {
	d := Descriptor{
		Name:       name,
		URL:        url,
		Priority:   priority,
		Weight:     defaultWeight,
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
		Enabled:    true,
	}
	for _, opt := range opts {
		opt(&d)
	}

	if err := validator.Validate(d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
