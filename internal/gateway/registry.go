package gateway

import (
	"strings"

	"design-service/internal/models"

	"github.com/pkg/errors"
)

// Registry dispatches by gateway identifier or, failing that, by callback shape
type Registry struct {
	adapters map[models.Gateway]Adapter
	order    []models.Gateway
}

// NewRegistry creates a registry from the given adapters, keeping their order for shape inference
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Gateway]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, exists := r.adapters[a.Name()]; !exists {
			r.order = append(r.order, a.Name())
		}
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered under gateway
func (r *Registry) Get(gateway models.Gateway) (Adapter, error) {
	a, ok := r.adapters[gateway]
	if !ok {
		return nil, errors.Wrapf(models.ErrUnknownGateway, "gateway %q", gateway)
	}
	return a, nil
}

// Resolve picks the adapter for a callback. An explicit gateway id wins;
// otherwise the first adapter that recognizes the parameter shape is used.
func (r *Registry) Resolve(gatewayID string, params map[string]string) (Adapter, error) {
	if id := strings.TrimSpace(gatewayID); id != "" {
		for name, a := range r.adapters {
			if strings.EqualFold(string(name), id) {
				return a, nil
			}
		}
		return nil, errors.Wrapf(models.ErrUnrecognizedCallback, "unknown gateway %q", id)
	}

	for _, name := range r.order {
		if rec, ok := r.adapters[name].(Recognizer); ok && rec.Recognizes(params) {
			return r.adapters[name], nil
		}
	}
	return nil, models.ErrUnrecognizedCallback
}
