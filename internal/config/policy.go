package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ticketing/internal/domain/models"
)

// TypeRule is the per-ticket-type validity rule.
type TypeRule struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

// TicketPolicy maps every sellable ticket type to its rule.
type TicketPolicy struct {
	Types map[models.TicketType]TypeRule `yaml:"ticket_types"`
}

// DefaultTicketPolicy is used when no policy file is configured.
func DefaultTicketPolicy() TicketPolicy {
	return TicketPolicy{Types: map[models.TicketType]TypeRule{
		models.TicketSingle: {GracePeriod: 2 * time.Hour},
		models.TicketFlexi:  {GracePeriod: 12 * time.Hour},
	}}
}

// Rule returns the rule for a ticket type.
func (p TicketPolicy) Rule(t models.TicketType) (TypeRule, bool) {
	r, ok := p.Types[t]
	return r, ok
}

// LoadTicketPolicy reads a YAML policy file. An empty path yields the defaults.
//
//	ticket_types:
//	  SINGLE: {grace_period: 2h}
//	  FLEXI:  {grace_period: 12h}
func LoadTicketPolicy(path string) (TicketPolicy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTicketPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return TicketPolicy{}, fmt.Errorf("read ticket policy: %w", err)
	}
	return ParseTicketPolicy(raw)
}

func ParseTicketPolicy(raw []byte) (TicketPolicy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var p TicketPolicy
	if err := dec.Decode(&p); err != nil {
		return TicketPolicy{}, fmt.Errorf("parse ticket policy: %w", err)
	}
	if len(p.Types) == 0 {
		return TicketPolicy{}, fmt.Errorf("ticket policy defines no ticket types")
	}
	for t, r := range p.Types {
		if strings.TrimSpace(string(t)) == "" {
			return TicketPolicy{}, fmt.Errorf("ticket policy has an empty ticket type")
		}
		if r.GracePeriod < 0 {
			return TicketPolicy{}, fmt.Errorf("ticket type %s: grace_period must not be negative", t)
		}
	}
	return p, nil
}
