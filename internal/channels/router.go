package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoHost is returned when no host is registered for an origin's platform
// and no default host is set.
var ErrNoHost = errors.New("channels: no host for platform")

// Router is a Host that dispatches CreateChannel to the host registered for
// the origin's platform. It lets one runner serve Discord and HTTP requests.
type Router struct {
	mu       sync.RWMutex
	hosts    map[string]Host
	fallback Host
}

var _ Host = (*Router)(nil)

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback Host) *Router {
	return &Router{hosts: make(map[string]Host), fallback: fallback}
}

// Register routes origins of platform to host. A nil host unregisters it.
func (r *Router) Register(platform string, host Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if host == nil {
		delete(r.hosts, platform)
		return
	}
	r.hosts[platform] = host
}

func (r *Router) CreateChannel(ctx context.Context, origin Origin, name string) (Channel, error) {
	r.mu.RLock()
	host, ok := r.hosts[origin.Platform]
	if !ok {
		host = r.fallback
	}
	r.mu.RUnlock()

	if host == nil {
		return nil, fmt.Errorf("%w %q", ErrNoHost, origin.Platform)
	}
	return host.CreateChannel(ctx, origin, name)
}
