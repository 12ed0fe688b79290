// Package healthcheck probes the image service on a cron schedule.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/logging"
)

var serviceUp = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "kiosk",
	Name:      "service_up",
	Help:      "1 when the last probe of the image service succeeded",
})

func init() {
	prometheus.MustRegister(serviceUp)
}

// Prober is satisfied by generation.Client.
type Prober interface {
	TestConnection(ctx context.Context) bool
}

type Options struct {
	Prober Prober
	// Schedule is a standard cron spec or descriptor such as "@every 30s".
	Schedule string
	// State, when set, is flipped to error while the service is down and back
	// to idle once it answers again. Only an error set here is cleared here;
	// generation status and generation failures are left alone.
	State   *appstate.State
	Timeout time.Duration
	Logger  *zerolog.Logger
}

type Checker struct {
	prober   Prober
	schedule cron.Schedule
	spec     string
	state    *appstate.State
	timeout  time.Duration
	logger   *zerolog.Logger

	mu        sync.Mutex
	checked   bool
	up        bool
	ownsError bool
}

func New(opts Options) (*Checker, error) {
	if opts.Prober == nil {
		return nil, errors.New("healthcheck: prober is required")
	}
	spec := opts.Schedule
	if spec == "" {
		spec = "@every 30s"
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("healthcheck: parse schedule %q: %w", spec, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		prober:   opts.Prober,
		schedule: schedule,
		spec:     spec,
		state:    opts.State,
		timeout:  timeout,
		logger:   logging.OrDiscard(opts.Logger),
	}, nil
}

// Check probes once and records the result.
func (c *Checker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	up := c.prober.TestConnection(ctx)

	c.mu.Lock()
	changed := !c.checked || c.up != up
	c.checked = true
	c.up = up
	c.mu.Unlock()

	if up {
		serviceUp.Set(1)
	} else {
		serviceUp.Set(0)
	}

	if changed {
		if up {
			c.logger.Info().Msg("image service reachable")
		} else {
			c.logger.Warn().Msg("image service unreachable")
		}
	}
	c.updateState(up)
	return up
}

func (c *Checker) updateState(up bool) {
	if c.state == nil || c.state.GeneratingImage() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.state.APIStatus()
	if status != appstate.StatusError {
		c.ownsError = false
	}
	switch {
	case !up && status != appstate.StatusError:
		c.state.SetAPIStatus(appstate.StatusError)
		c.ownsError = true
	case up && c.ownsError:
		c.state.SetAPIStatus(appstate.StatusIdle)
		c.ownsError = false
	}
}

// Up reports the last probe result; ok is false before the first probe.
func (c *Checker) Up() (up, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up, c.checked
}

// Run probes immediately and then on schedule until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	scheduler := cron.New()
	scheduler.Schedule(c.schedule, cron.FuncJob(func() { c.Check(ctx) }))

	c.Check(ctx)
	scheduler.Start()
	c.logger.Info().Str("schedule", c.spec).Msg("healthcheck started")

	<-ctx.Done()
	<-scheduler.Stop().Done()
	c.logger.Info().Msg("healthcheck stopped")
	return nil
}
