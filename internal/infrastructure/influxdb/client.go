package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fernvale/ble-scanner-core/internal/infrastructure/config"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/logging"
)

// healthCheckTimeout bounds the startup connectivity probe.
const healthCheckTimeout = 5 * time.Second

// Client wraps the InfluxDB v2 client for RSSI history writes.
//
// Writes go through the non-blocking WriteAPI: points are buffered and
// flushed in batches by a background goroutine, so the ingest pipeline
// never waits on the time-series store. Write errors are drained onto
// the error channel and logged at warn; history is a best-effort sink
// and never affects registry correctness.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger
	done     chan struct{}
}

// Connect creates a client and verifies the server is reachable.
func Connect(cfg config.InfluxDBConfig, logger *logging.Logger) (*Client, error) {
	options := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval * 1000))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("%w: health status %q", ErrConnectionFailed, health.Status)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.With("component", "influxdb"),
		done:     make(chan struct{}),
	}

	go c.drainErrors()

	c.logger.Info("Connected to InfluxDB", "url", cfg.URL, "bucket", cfg.Bucket)
	return c, nil
}

// drainErrors logs asynchronous write failures until Close.
func (c *Client) drainErrors() {
	errCh := c.writeAPI.Errors()
	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return
			}
			c.logger.Warn("History write failed", "error", err)
		case <-c.done:
			return
		}
	}
}

// Close flushes buffered points and shuts the client down.
func (c *Client) Close() {
	close(c.done)
	c.writeAPI.Flush()
	c.client.Close()
}
