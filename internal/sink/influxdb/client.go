// internal/sink/influxdb/client.go
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tamzrod/pzem-poller/internal/sink"
)

const defaultPingTimeout = 5 * time.Second

// ErrNotHealthy is returned by HealthCheck when the server answers but
// reports itself unhealthy.
var ErrNotHealthy = errors.New("influxdb: server not healthy")

// Config is the connection passed through from configuration.
type Config struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// Client writes batches through the blocking write API so each Write is
// exactly one HTTP request whose outcome the caller sees.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// New creates a client. It does not contact the server.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("influxdb: url required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influxdb: org and bucket required")
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		secs := uint(cfg.Timeout / time.Second)
		if secs == 0 {
			secs = 1
		}
		opts = opts.SetHTTPRequestTimeout(secs)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Write sends points in one request.
func (c *Client) Write(ctx context.Context, points []sink.Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		batch = append(batch, influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time))
	}

	if err := c.writeAPI.WritePoint(ctx, batch...); err != nil {
		return classify(err)
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return classify(err)
	}
	if !healthy {
		return &sink.Error{Kind: sink.KindConnection, Err: ErrNotHealthy}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.Close()
	return nil
}

// classify maps client errors onto sink kinds.
func classify(err error) error {
	var he *ihttp.Error
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == 401 || he.StatusCode == 403:
			return &sink.Error{Kind: sink.KindAuth, Err: err}
		case he.StatusCode == 0 && he.Err != nil:
			return &sink.Error{Kind: sink.KindConnection, Err: err}
		case he.StatusCode >= 500:
			return &sink.Error{Kind: sink.KindConnection, Err: err}
		default:
			return &sink.Error{Kind: sink.KindWrite, Err: err}
		}
	}

	var ne net.Error
	var ue *url.Error
	if errors.As(err, &ne) || errors.As(err, &ue) || errors.Is(err, context.DeadlineExceeded) {
		return &sink.Error{Kind: sink.KindConnection, Err: err}
	}
	return &sink.Error{Kind: sink.KindWrite, Err: fmt.Errorf("influxdb: %w", err)}
}
