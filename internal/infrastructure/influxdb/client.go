package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/proflame-bridge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	defaultBatchSize    = 100
	defaultFlushSeconds = 10

	// failureWindow is how long a failed batch marks the client unhealthy.
	failureWindow = time.Minute
)

// Client batches fireplace telemetry into InfluxDB v2. Writes never block;
// the write API flushes in the background. Safe for concurrent use.
type Client struct {
	conn   influxdb2.Client
	points api.WriteAPI

	closed    atomic.Bool
	closeOnce sync.Once

	lastFailure atomic.Int64 // unix nanos of the last failed batch
	onError     atomic.Pointer[func(error)]
}

// Connect pings the server and starts the batched write API. It returns
// ErrDisabled when telemetry is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	conn := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{conn: conn, points: conn.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.watchErrors(c.points.Errors())
	return c, nil
}

// writeOptions applies batch settings, defaulting non-positive values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushSeconds
	}

	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * uint(time.Second/time.Millisecond))
}

func ping(ctx context.Context, conn influxdb2.Client) error {
	ok, err := conn.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("server not ready")
	}
	return nil
}

// watchErrors runs until the write API closes its error channel.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.lastFailure.Store(time.Now().UnixNano())
		if fn := c.onError.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// Close flushes buffered points and releases the client. Safe to call more
// than once, and on a zero Client.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.points.Flush()
		c.conn.Close()
	})
	return nil
}

// IsConnected reports false after Close and for failureWindow after a
// batch was rejected.
func (c *Client) IsConnected() bool {
	if c.conn == nil || c.closed.Load() {
		return false
	}
	last := c.lastFailure.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > failureWindow
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.onError.Store(&fn)
}
