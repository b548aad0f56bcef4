package service

import "sync"

// inflightGuard admits one settlement flow per order id at a time.
type inflightGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{active: make(map[string]struct{})}
}

func (g *inflightGuard) acquire(orderID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[orderID]; busy {
		return nil, ErrOperationInFlight
	}
	g.active[orderID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, orderID)
			g.mu.Unlock()
		})
	}, nil
}

func (g *inflightGuard) busy(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[orderID]
	return ok
}
