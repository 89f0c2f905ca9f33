package workflow

import (
	"regexp"
	"sync"

	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

var terminalIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Registry holds one controller per terminal for the life of the process.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry validates deps once for every future session.
func NewRegistry(deps Deps) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Registry{deps: deps, sessions: map[string]*Controller{}}, nil
}

// Get returns the controller for terminalID, creating it on first use.
func (r *Registry) Get(terminalID string) (*Controller, error) {
	if !terminalIDPattern.MatchString(terminalID) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terminal id must be 1-64 letters, digits, '-' or '_'")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[terminalID]; ok {
		return c, nil
	}
	c, err := NewController(terminalID, r.deps)
	if err != nil {
		return nil, err
	}
	r.sessions[terminalID] = c
	return c, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
