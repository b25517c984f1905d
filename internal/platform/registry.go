package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
)

// ErrUnknownPlatform is returned for a kind with no registered connector.
var ErrUnknownPlatform = errors.New("no connector registered for platform")

// Registry maps platform kinds to connectors and classifies their errors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[Kind]Connector
	classifier *syncerr.Classifier
}

// NewRegistry registers the given connectors.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{
		connectors: make(map[Kind]Connector),
		classifier: syncerr.NewClassifier(),
	}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the connector for c.Kind().
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Kind()] = c
	r.classifier.Register(string(c.Kind()), c.ErrorRules())
}

// Get returns the connector for kind.
func (r *Registry) Get(kind Kind) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, kind)
	}
	return c, nil
}

// Kinds returns the registered platforms in name order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.connectors))
	for k := range r.connectors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Classify normalizes err using kind's rule table.
func (r *Registry) Classify(err error, kind Kind) *syncerr.Classified {
	return r.classifier.Classify(err, string(kind))
}
