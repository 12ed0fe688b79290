package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"not-you-kiosk/internal/httpclient"
	"not-you-kiosk/internal/logging"
	"not-you-kiosk/internal/sdapi"
)

// pngMagic is the 8 byte PNG file signature.
var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type JobID uint64

type Options struct {
	API    *sdapi.Client
	Params Params

	// MaxRetries is the number of attempts per job, at least one.
	MaxRetries int
	RetryDelay time.Duration
	// RequestTimeout bounds each attempt and each probe.
	RequestTimeout time.Duration

	Workers   int
	QueueSize int

	Logger *zerolog.Logger
}

type job struct {
	id            JobID
	prompt        string
	seed          int64
	correlationID string
	submitted     time.Time
	ctx           context.Context
	onSuccess     func([]byte)
	onError       func(error)
}

// Client runs txt2img jobs on a fixed worker pool. A job that is cancelled
// before its callback is claimed never reports back.
type Client struct {
	api        *sdapi.Client
	params     Params
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	logger     *zerolog.Logger

	mu     sync.Mutex
	nextID JobID
	active map[JobID]context.CancelFunc
	closed bool

	queue  chan *job
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
}

func New(opts Options) *Client {
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 2
	}
	queueSize := opts.QueueSize
	if queueSize < 1 {
		queueSize = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	c := &Client{
		api:        opts.API,
		params:     opts.Params.withDefaults(),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		timeout:    timeout,
		logger:     logging.OrDiscard(opts.Logger),
		active:     make(map[JobID]context.CancelFunc),
		queue:      make(chan *job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		group:      group,
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			c.work(groupCtx)
			return nil
		})
	}
	return c
}

// GenerateImage queues a job and returns at once. The seed is read from
// seeds now, so later seed changes do not affect this job. Exactly one of
// onSuccess and onError runs, on a worker goroutine, unless the job is
// cancelled first.
func (c *Client) GenerateImage(prompt string, seeds SeedSource, onSuccess func([]byte), onError func(error)) JobID {
	seed := RandomSeed
	if seeds != nil {
		seed = seeds.CurrentSeed()
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.closed {
		c.mu.Unlock()
		c.reject(id, onError, ErrClosed)
		return id
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.active[id] = cancel
	activeJobs.Set(float64(len(c.active)))
	c.mu.Unlock()

	j := &job{
		id:            id,
		prompt:        prompt,
		seed:          seed,
		correlationID: uuid.NewString(),
		submitted:     time.Now(),
		ctx:           ctx,
		onSuccess:     onSuccess,
		onError:       onError,
	}

	select {
	case c.queue <- j:
		c.logger.Info().
			Uint64("job", uint64(id)).
			Str("correlation_id", j.correlationID).
			Int64("seed", seed).
			Str("prompt", prompt).
			Msg("generation queued")
	default:
		if c.claim(id) {
			c.reject(id, onError, ErrQueueFull)
		}
	}
	return id
}

// CancelPendingRequests cancels every job whose callback has not started
// and returns how many there were.
func (c *Client) CancelPendingRequests() int {
	c.mu.Lock()
	n := len(c.active)
	for id, cancel := range c.active {
		cancel()
		delete(c.active, id)
	}
	activeJobs.Set(0)
	c.mu.Unlock()

	if n > 0 {
		jobsTotal.WithLabelValues(outcomeCancelled).Add(float64(n))
		c.logger.Info().Int("jobs", n).Msg("pending generations cancelled")
	}
	return n
}

// ActiveJobs returns the number of jobs that may still report back.
func (c *Client) ActiveJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.GetAPIInfo(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("connection test failed")
		return false
	}
	return true
}

// GetAPIInfo returns the service options document.
func (c *Client) GetAPIInfo(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.api.Options(httpclient.WithRequestID(ctx, uuid.NewString()))
}

// Close cancels all jobs and waits for the workers. It must not be called
// from a job callback.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.CancelPendingRequests()
		c.cancel()
		_ = c.group.Wait()
		c.logger.Info().Msg("generation client closed")
	})
}

func (c *Client) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-c.queue:
			c.run(j)
		}
	}
}

func (c *Client) run(j *job) {
	logger := c.logger.With().
		Uint64("job", uint64(j.id)).
		Str("correlation_id", j.correlationID).
		Logger()

	if !c.isActive(j.id) {
		logger.Debug().Msg("skipping cancelled job")
		return
	}

	req := c.params.request(j.prompt, j.seed)

	if !c.isActive(j.id) {
		logger.Debug().Msg("job cancelled before send")
		return
	}

	image, err := c.generate(j, req, &logger)

	if !c.isActive(j.id) {
		logger.Debug().Msg("discarding result of cancelled job")
		return
	}

	if !c.claim(j.id) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("generation callback failed")
		}
	}()

	if err != nil {
		jobsTotal.WithLabelValues(outcomeError).Inc()
		failuresTotal.WithLabelValues(string(KindOf(err))).Inc()
		logger.Error().Err(err).Msg("generation failed")
		if j.onError != nil {
			j.onError(err)
		}
		return
	}

	jobsTotal.WithLabelValues(outcomeSuccess).Inc()
	jobDuration.Observe(time.Since(j.submitted).Seconds())
	logger.Info().Int("bytes", len(image)).Dur("elapsed", time.Since(j.submitted)).Msg("generation finished")
	if j.onSuccess != nil {
		j.onSuccess(image)
	}
}

// generate performs up to maxRetries attempts. Transport failures and
// non-200 answers are retried; malformed bodies and decode errors are not.
func (c *Client) generate(j *job, req sdapi.Txt2ImgRequest, logger *zerolog.Logger) ([]byte, error) {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			if err := sleep(j.ctx, c.retryDelay); err != nil {
				return nil, &Error{Kind: KindNetwork, Job: j.id, Attempts: attempts, Err: err}
			}
			if !c.isActive(j.id) {
				return nil, &Error{Kind: KindNetwork, Job: j.id, Attempts: attempts, Err: context.Canceled}
			}
		}
		attempts = attempt

		ctx, cancel := context.WithTimeout(j.ctx, c.timeout)
		resp, err := c.api.Txt2Img(httpclient.WithRequestID(ctx, j.correlationID), req)
		cancel()

		if err == nil {
			attemptsTotal.WithLabelValues("ok").Inc()
			image, decErr := decodeImage(resp.Images[0])
			if decErr != nil {
				return nil, &Error{Kind: KindDecode, Job: j.id, Attempts: attempt, Err: decErr}
			}
			return image, nil
		}

		if errors.Is(err, sdapi.ErrMalformedResponse) {
			attemptsTotal.WithLabelValues("malformed").Inc()
			return nil, &Error{Kind: KindProtocol, Job: j.id, Attempts: attempt, Err: err}
		}

		lastErr = err
		if sdapi.IsStatus(err) {
			attemptsTotal.WithLabelValues("status").Inc()
		} else {
			attemptsTotal.WithLabelValues("transport").Inc()
		}

		if j.ctx.Err() != nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.maxRetries).Msg("generation attempt failed")
	}

	kind := KindNetwork
	if sdapi.IsStatus(lastErr) {
		kind = KindProtocol
	}
	return nil, &Error{Kind: kind, Job: j.id, Attempts: attempts, Err: lastErr}
}

func (c *Client) isActive(id JobID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

// claim removes id from the active set. Only the caller that gets true may
// run the job's callback.
func (c *Client) claim(id JobID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.active[id]
	if !ok {
		return false
	}
	cancel()
	delete(c.active, id)
	activeJobs.Set(float64(len(c.active)))
	return true
}

func (c *Client) reject(id JobID, onError func(error), cause error) {
	jobsTotal.WithLabelValues(outcomeRejected).Inc()
	failuresTotal.WithLabelValues(string(KindRejected)).Inc()
	c.logger.Warn().Uint64("job", uint64(id)).Err(cause).Msg("generation rejected")
	if onError != nil {
		onError(&Error{Kind: KindRejected, Job: id, Err: cause})
	}
}

func decodeImage(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(stripDataURLPrefix(strings.TrimSpace(encoded)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !IsPNG(data) {
		return nil, fmt.Errorf("%w: missing png signature", ErrDecode)
	}
	return data, nil
}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return len(data) >= len(pngMagic) && bytes.Equal(data[:len(pngMagic)], pngMagic)
}

func stripDataURLPrefix(value string) string {
	if strings.HasPrefix(value, "data:") {
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			return value[idx+1:]
		}
	}
	return value
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
