package wsconn

import (
	"sync"

	"github.com/google/uuid"
	"github.com/webitel/im-connect/internal/domain/model"
)

// Listener carries the lifecycle callbacks a feature may subscribe to.
// Any callback may be nil.
type Listener struct {
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(*model.Message)
	OnError      func(error)
	OnReconnect  func(attempt int)
}

// subscribers is the per-connection listener registry, keyed by feature.
// Unsubscribing the last listener for a feature removes the feature entry.
type subscribers struct {
	mu   sync.RWMutex
	byID map[model.Feature]map[string]Listener
}

func newSubscribers() *subscribers {
	return &subscribers{byID: make(map[model.Feature]map[string]Listener)}
}

func (s *subscribers) add(feature model.Feature, l Listener) (unsubscribe func()) {
	id := uuid.NewString()

	s.mu.Lock()
	if s.byID[feature] == nil {
		s.byID[feature] = make(map[string]Listener)
	}
	s.byID[feature][id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.byID[feature]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.byID, feature)
			}
		}
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	s.byID = make(map[model.Feature]map[string]Listener)
	s.mu.Unlock()
}

// snapshot copies the listeners for a feature so callbacks run without
// holding the registry lock.
func (s *subscribers) snapshot(feature model.Feature) []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.byID[feature]
	if len(m) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	return out
}

// all copies every registered listener across features.
func (s *subscribers) all() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Listener
	for _, m := range s.byID {
		for _, l := range m {
			out = append(out, l)
		}
	}
	return out
}
