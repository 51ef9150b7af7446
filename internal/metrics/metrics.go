// Package metrics wraps the go-statsd-client Statter behind the small
// Recorder interface the paxos roles actually need, with a NoopClient
// fallback for when no statsd endpoint is configured.
package metrics

import (
	"github.com/cactus/go-statsd-client/v5/statsd"
)

// Recorder is the subset of statsd.Statter the role engines exercise:
// counters for prepares/promises/nacks/quorums/absentee-ballot activity.
type Recorder interface {
	Incr(stat string, count int64) error
	Gauge(stat string, value int64) error
}

// Client adapts a statsd.Statter to Recorder.
type Client struct {
	Statter statsd.Statter
}

// NewClient dials a statsd endpoint (e.g. "127.0.0.1:8125") with the
// given stat prefix.
func NewClient(addr, prefix string) (*Client, error) {
	s, err := statsd.NewClient(addr, prefix)
	if err != nil {
		return nil, err
	}
	return &Client{Statter: s}, nil
}

func (c *Client) Incr(stat string, count int64) error {
	return c.Statter.Inc(stat, count, 1.0)
}

func (c *Client) Gauge(stat string, value int64) error {
	return c.Statter.Gauge(stat, value, 1.0)
}

// NoopClient discards every metric, mirroring statsd's own NoopClient,
// and is the default Recorder when no endpoint is configured.
type NoopClient struct{}

func (NoopClient) Incr(stat string, count int64) error  { return nil }
func (NoopClient) Gauge(stat string, value int64) error { return nil }
