// Package location acquires the user's position once per request and maps the
// outcome onto a permission state.
package location

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"babmutna-bot/api/internal/lunch"
)

var (
	ErrUnsupported = errors.New("geolocation is not supported")
	ErrDenied      = errors.New("geolocation permission denied")
)

// Options mirror the device positioning request.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxCacheAge  time.Duration // 0 forces a fresh reading
}

func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 5 * time.Second, MaxCacheAge: 0}
}

// Geolocator is the device capability. Implementations must honour ctx and opts.Timeout.
type Geolocator interface {
	RequestPosition(ctx context.Context, opts Options) (lunch.Coordinates, error)
}

type Result struct {
	Permission lunch.PermissionState
	Coords     *lunch.Coordinates
	// Location is always lunch.DefaultLocation: no reverse geocoding is done.
	Location string
}

func (r Result) Granted() bool { return r.Permission == lunch.PermissionGranted }

type Provider struct {
	geo  Geolocator
	opts Options
	log  *zap.Logger
}

// NewProvider accepts a nil geolocator, which behaves as an absent capability.
func NewProvider(geo Geolocator, opts Options, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Provider{geo: geo, opts: opts, log: log.Named("location")}
}

// RequestLocation is single-shot: it never returns an error, a failed or
// missing fix is reported as a denied result.
func (p *Provider) RequestLocation(ctx context.Context) Result {
	res := Result{Permission: lunch.PermissionDenied, Location: lunch.DefaultLocation}
	if p.geo == nil {
		p.log.Info("geolocation unavailable", zap.Error(ErrUnsupported))
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	c, err := p.geo.RequestPosition(ctx, p.opts)
	if err != nil {
		p.log.Info("geolocation denied", zap.Error(err))
		return res
	}
	res.Permission = lunch.PermissionGranted
	res.Coords = &c
	return res
}
