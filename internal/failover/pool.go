// Package failover rotates between an ordered pool of RPC endpoints when a
// caller calls Switch. The scanner calls it only on a rate-limit (HTTP 429)
// response; repeated other failures are retried on the same endpoint and
// never trigger a switch.
package failover

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"chainindex/internal/rpcclient"

	"github.com/sirupsen/logrus"
)

// Notifier receives a message whenever the pool switches endpoints.
type Notifier interface {
	Notify(msg string)
}

// Pool holds an ordered list of endpoints and the currently-active client.
// Switch is safe to call concurrently with Current.
type Pool struct {
	mu       sync.RWMutex
	urls     []string
	index    int
	client   *rpcclient.Client
	limiters []*rate.Limiter
	notifier Notifier
}

// New dials the first endpoint in urls and prepares the pool. Each endpoint
// gets its own token-bucket limiter (default 10 req/s, burst 20) so a
// freshly-switched-to endpoint isn't immediately hammered back into a 429.
func New(ctx context.Context, urls []string, notifier Notifier) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("failover: at least one endpoint is required")
	}
	p := &Pool{urls: urls, notifier: notifier}
	for range urls {
		p.limiters = append(p.limiters, rate.NewLimiter(rate.Limit(10), 20))
	}
	cli, err := rpcclient.Dial(ctx, urls[0])
	if err != nil {
		return nil, err
	}
	p.client = cli
	return p, nil
}

// Current returns the presently-active RPC client.
func (p *Pool) Current() *rpcclient.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Wait blocks until the current endpoint's limiter admits one more request.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.RLock()
	lim := p.limiters[p.index]
	p.mu.RUnlock()
	return lim.Wait(ctx)
}

// Switch advances to the next endpoint in the pool, redials, and swaps the
// client reference atomically. In-flight requests on the old client observe
// errors and are retried against the new client by the caller's outer retry
// loop, so Switch itself never cancels anything in flight.
func (p *Pool) Switch(ctx context.Context) error {
	p.mu.Lock()
	next := (p.index + 1) % len(p.urls)
	url := p.urls[next]
	p.mu.Unlock()

	cli, err := rpcclient.Dial(ctx, url)
	if err != nil {
		logrus.Warnf("failover: redial to %s failed: %v", url, err)
		return err
	}

	p.mu.Lock()
	p.index = next
	p.client = cli
	p.mu.Unlock()

	msg := fmt.Sprintf("provider switched to %s", url)
	logrus.Warnf(msg)
	if p.notifier != nil {
		p.notifier.Notify(msg)
	}
	return nil
}

// Len returns the number of configured endpoints.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.urls)
}
