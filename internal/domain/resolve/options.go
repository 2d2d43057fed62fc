package resolve

import (
	"time"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/pkg/logger"
)

// Option configures a Factory.
type Option func(*Factory)

// WithSharedCache adds a cross-process cache consulted after the in-run map.
func WithSharedCache(c SharedCache) Option {
	return func(f *Factory) {
		f.shared = c
	}
}

// WithTimeout bounds each store or shared cache round trip.
func WithTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithDeviceType sets the vendor whose connections are looked up.
func WithDeviceType(dt model.DeviceType) Option {
	return func(f *Factory) {
		if dt != "" {
			f.device = dt
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.log = l
		}
	}
}
