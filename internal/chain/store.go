package chain

import (
	"sync"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Store is an in-memory catalog of Chain definitions, mirroring the
// locking shape of internal/registry.Registry (a mutex-guarded map with
// copy-on-read snapshots) but for chain definitions rather than models.
type Store struct {
	mu     sync.RWMutex
	chains map[string]types.Chain
}

func NewStore() *Store {
	return &Store{chains: make(map[string]types.Chain)}
}

func (s *Store) Put(c types.Chain) error {
	if c.ID == "" {
		return apierr.New(apierr.InvalidRequest, "chain id must not be empty")
	}
	if len(c.Steps) == 0 {
		return apierr.New(apierr.InvalidRequest, "chain must have at least one step")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[c.ID] = c
	return nil
}

func (s *Store) Get(id string) (types.Chain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	return c, ok
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, id)
}

func (s *Store) List() []types.Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Chain, 0, len(s.chains))
	for _, c := range s.chains {
		out = append(out, c)
	}
	return out
}

// ExecutionStore records completed/in-progress Execution snapshots so a
// run can later be retrieved by id via
// GET /v1/chains/{id}/executions/{execution_id} (spec §4.5). The
// non-streaming execute handler stores its runs here; streaming runs are
// not recorded.
type ExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*types.Execution
}

func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{executions: make(map[string]*types.Execution)}
}

func (s *ExecutionStore) Put(e *types.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ExecutionID] = e
}

func (s *ExecutionStore) Get(id string) (*types.Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	return e, ok
}
