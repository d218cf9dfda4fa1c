// Package poller implements a periodic-read loop over a modbus.Client,
// the piece of a real industrial Modbus master that sits above the raw
// request/response client: poll a fixed set of tags at their own interval,
// recover from transient failures with backoff, and hand extracted values
// to the caller over a channel.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/modbuscore/gomodbus"
)

// ErrAlreadyRunning is returned by Poll if the Poller is already polling.
var ErrAlreadyRunning = errors.New("poller: already running")

// Tag describes one value (or contiguous block of values) to poll.
type Tag struct {
	// Name identifies this tag in Result and in logs/metrics.
	Name string
	// FunctionCode selects the read operation: ReadCoils, ReadDiscreteInputs,
	// ReadHoldingRegisters or ReadInputRegisters.
	FunctionCode byte
	Address      uint16
	Quantity     uint16
	// Interval is the polling period for this tag.
	Interval time.Duration
}

// Result carries the outcome of a single poll of a Tag.
type Result struct {
	Tag  string
	Time time.Time
	Data []byte
	Err  error
}

// Config configures a Poller.
type Config struct {
	// Logger receives per-job error and health log lines. Nil disables logging.
	Logger *log.Logger
	// Metrics receives optional instrumentation. Nil disables it.
	Metrics *Metrics
	// MinRetryDelay is the initial backoff after a failed poll. Defaults to 1s.
	MinRetryDelay time.Duration
	// MaxRetryDelay caps the exponential backoff. Defaults to 1m.
	MaxRetryDelay time.Duration
}

// Poller polls a fixed set of Tags against a Client, one goroutine per tag,
// and publishes Results on ResultChan until its context is cancelled.
type Poller struct {
	client  modbus.Client
	logger  *log.Logger
	metrics *Metrics

	minRetryDelay time.Duration
	maxRetryDelay time.Duration

	mu      sync.Mutex
	running bool

	tags       []Tag
	ResultChan chan Result
}

const jobHealthTickInterval = 60 * time.Second

// New creates a Poller that reads the given tags from client.
func New(client modbus.Client, tags []Tag, conf Config) *Poller {
	p := &Poller{
		client:        client,
		logger:        conf.Logger,
		metrics:       conf.Metrics,
		minRetryDelay: conf.MinRetryDelay,
		maxRetryDelay: conf.MaxRetryDelay,
		tags:          tags,
		ResultChan:    make(chan Result, 2*len(tags)),
	}
	if p.minRetryDelay <= 0 {
		p.minRetryDelay = 1 * time.Second
	}
	if p.maxRetryDelay <= 0 {
		p.maxRetryDelay = 1 * time.Minute
	}
	return p
}

// Poll starts one polling goroutine per tag and blocks until ctx is
// cancelled or all goroutines return. It returns ErrAlreadyRunning if
// called while a previous Poll is still active.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if len(p.tags) == 0 {
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	for i := range p.tags {
		wg.Add(1)
		go func(tag Tag) {
			defer wg.Done()
			p.runTag(ctx, tag)
		}(p.tags[i])
	}
	wg.Wait()
	return nil
}

func (p *Poller) logf(format string, v ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, v...)
	}
}

// runTag drives the retry/backoff loop for a single tag, restarting pollOnce
// after a failure with exponential backoff, exactly as a long-running
// industrial poll job must survive a slave reboot or a network blip.
func (p *Poller) runTag(ctx context.Context, tag Tag) {
	var retryDelay time.Duration
	timer := time.NewTimer(p.minRetryDelay)
	defer timer.Stop()

	for {
		start := time.Now()
		err := p.pollOnce(ctx, tag)
		if err == nil || ctx.Err() != nil {
			return
		}

		elapsed := time.Since(start)
		if retryDelay == 0 || elapsed > p.maxRetryDelay {
			retryDelay = p.minRetryDelay
		} else {
			retryDelay *= 2
			if retryDelay > p.maxRetryDelay {
				retryDelay = p.maxRetryDelay
			}
		}
		p.logf("poller: tag %q poll loop failed: %v (retrying in %s)", tag.Name, err, retryDelay)

		timer.Reset(retryDelay)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			return
		}
	}
}

// pollOnce ticks tag.Interval until ctx is done or a fatal error occurs.
// Every per-request error is reported on ResultChan. One matching
// modbus.ErrConnectionClosed or context.DeadlineExceeded also ends the loop
// and is returned for the caller's retry/backoff wrapper; any other error
// does not stop it. A cancelled context ends it with a nil error.
func (p *Poller) pollOnce(ctx context.Context, tag Tag) error {
	ticker := time.NewTicker(tag.Interval)
	defer ticker.Stop()

	healthTicker := time.NewTicker(jobHealthTickInterval)
	defer healthTicker.Stop()

	var okCount, errCount uint64
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			data, err := p.read(ctx, tag)
			duration := time.Since(start)

			if p.metrics != nil {
				p.metrics.observeRequest(tag.Name, duration, err)
			}

			if err != nil {
				errCount++
				p.logf("poller: tag %q request failed: %v", tag.Name, err)
			} else {
				okCount++
			}

			result := Result{Tag: tag.Name, Time: start, Data: data, Err: err}
			select {
			case p.ResultChan <- result:
			default:
				p.logf("poller: tag %q result dropped, channel full", tag.Name)
			}

			if errors.Is(err, modbus.ErrConnectionClosed) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		case <-healthTicker.C:
			p.logf("poller: tag %q health: ok=%d err=%d", tag.Name, okCount, errCount)
		case <-ctx.Done():
			return nil
		}
	}
}

// read dispatches to the Client operation matching tag.FunctionCode.
func (p *Poller) read(ctx context.Context, tag Tag) ([]byte, error) {
	switch tag.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return p.client.ReadCoils(ctx, tag.Address, tag.Quantity)
	case modbus.FuncCodeReadDiscreteInputs:
		return p.client.ReadDiscreteInputs(ctx, tag.Address, tag.Quantity)
	case modbus.FuncCodeReadHoldingRegisters:
		return p.client.ReadHoldingRegisters(ctx, tag.Address, tag.Quantity)
	case modbus.FuncCodeReadInputRegisters:
		return p.client.ReadInputRegisters(ctx, tag.Address, tag.Quantity)
	default:
		return nil, fmt.Errorf("poller: tag %q: unsupported function code 0x%02X for polling", tag.Name, tag.FunctionCode)
	}
}
