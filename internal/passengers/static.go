package passengers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static is a fixed passenger directory for local runs and tests.
type Static struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewStatic(ids ...string) *Static {
	s := &Static{ids: map[string]struct{}{}}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *Static) Add(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Static) PassengerExists(_ context.Context, passengerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[passengerID]
	return ok, nil
}

type staticFile struct {
	Passengers []string `yaml:"passengers"`
}

// LoadStatic reads a YAML passenger list:
//
//	passengers: [P1, P2]
func LoadStatic(path string) (*Static, error) {
	s := NewStatic()
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read passenger directory: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse passenger directory: %w", err)
	}
	for _, id := range f.Passengers {
		s.Add(id)
	}
	return s, nil
}
