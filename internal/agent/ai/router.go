package ai

import (
	"context"
	"strings"
)

// Router dispatches a request to a provider by model id prefix. Ids without a
// dedicated route go to the fallback, normally OpenRouter.
type Router struct {
	fallback Provider
	routes   map[string]Provider
}

// NewRouter creates a router with a fallback provider.
func NewRouter(fallback Provider) *Router {
	return &Router{fallback: fallback, routes: make(map[string]Provider)}
}

// Route sends ids starting with prefix to p. Not safe to call after serving begins.
func (r *Router) Route(prefix string, p Provider) {
	r.routes[prefix] = p
}

// ID returns the provider identifier
func (r *Router) ID() string {
	return "router"
}

// For returns the provider that serves model.
func (r *Router) For(model string) Provider {
	best := ""
	var chosen Provider
	for prefix, p := range r.routes {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, chosen = prefix, p
		}
	}
	if chosen != nil {
		return chosen
	}
	return r.fallback
}

// Stream delegates to the provider that serves req.Model.
func (r *Router) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	return r.For(req.Model).Stream(ctx, req)
}
