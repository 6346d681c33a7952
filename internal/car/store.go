package car

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
)

// nodeStore is an in-memory content-addressed store living for the
// duration of one pack. Nodes are keyed by the canonical string form of
// their CID; writing the same CID twice is idempotent, which is exactly
// what happens when identical file content appears at multiple paths.
type nodeStore struct {
	mu    sync.RWMutex
	nodes map[string]format.Node
	// order preserves first-insertion order for deterministic
	// serialization.
	order []cid.Cid
}

var _ format.DAGService = (*nodeStore)(nil)

func newNodeStore() *nodeStore {
	return &nodeStore{nodes: make(map[string]format.Node)}
}

func (s *nodeStore) Get(ctx context.Context, c cid.Cid) (format.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if nd, ok := s.nodes[c.KeyString()]; ok {
		return nd, nil
	}
	return nil, format.ErrNotFound{Cid: c}
}

func (s *nodeStore) GetMany(ctx context.Context, cids []cid.Cid) <-chan *format.NodeOption {
	out := make(chan *format.NodeOption, len(cids))
	go func() {
		defer close(out)
		for _, c := range cids {
			nd, err := s.Get(ctx, c)
			select {
			case out <- &format.NodeOption{Node: nd, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *nodeStore) Add(ctx context.Context, nd format.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nd.Cid().KeyString()
	if _, ok := s.nodes[key]; !ok {
		s.order = append(s.order, nd.Cid())
	}
	s.nodes[key] = nd
	return nil
}

func (s *nodeStore) AddMany(ctx context.Context, nds []format.Node) error {
	for _, nd := range nds {
		if err := s.Add(ctx, nd); err != nil {
			return err
		}
	}
	return nil
}

func (s *nodeStore) Remove(ctx context.Context, c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, c.KeyString())
	return nil
}

func (s *nodeStore) RemoveMany(ctx context.Context, cids []cid.Cid) error {
	for _, c := range cids {
		if err := s.Remove(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of distinct stored nodes.
func (s *nodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
