package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/logger"
)

var log = logger.Component("provider")

// Dispatcher routes each request to the backend that owns its model,
// creating one HTTP client per provider on first use.
type Dispatcher struct {
	providers config.ProvidersConfig

	mu      sync.Mutex
	clients map[string]Client
}

// NewDispatcher creates a dispatcher over the configured provider credentials
func NewDispatcher(providers config.ProvidersConfig) *Dispatcher {
	return &Dispatcher{
		providers: providers,
		clients:   make(map[string]Client),
	}
}

// Register installs a client for a provider name, replacing any cached one
func (d *Dispatcher) Register(name string, c Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[name] = c
}

func (d *Dispatcher) clientFor(spec Spec) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[spec.Name]; ok {
		return c, nil
	}

	pc, _ := d.providers.Get(spec.Name)
	if pc.APIKey == "" {
		return nil, fmt.Errorf("%w: %s has no API key", ErrNoProvider, spec.DisplayName)
	}
	base := pc.APIBase
	if base == "" {
		base = spec.DefaultAPIBase
	}

	var c Client
	switch spec.Wire {
	case WireAnthropic:
		c = NewAnthropicClient(pc.APIKey, base, pc.ExtraHeaders)
	default:
		c = NewOpenAIClient(spec.Name, pc.APIKey, base, pc.ExtraHeaders)
	}
	d.clients[spec.Name] = c
	log.Debug("created %s client (base %s)", spec.Name, base)
	return c, nil
}

// Chat resolves the request's model to a provider and forwards the call
// with the provider prefix stripped. The response reports the full model id.
func (d *Dispatcher) Chat(ctx context.Context, req Request) Response {
	spec, wireModel, ok := Resolve(req.Model)
	if !ok {
		return ErrorResponse(req.Model, WrapError("router", fmt.Errorf("%w: %s", ErrNoProvider, req.Model)))
	}

	c, err := d.clientFor(spec)
	if err != nil {
		return ErrorResponse(req.Model, WrapError(spec.Name, err))
	}

	requested := req.Model
	req.Model = wireModel
	resp := c.Chat(ctx, req)
	resp.Model = requested
	return resp
}
