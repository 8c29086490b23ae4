package config

import (
	"testing"
	"time"

	"ticketing/internal/domain/models"
)

func TestParseTicketPolicy(t *testing.T) {
	raw := []byte(`
ticket_types:
  SINGLE:
    grace_period: 90m
  FLEXI:
    grace_period: 6h
`)
	p, err := ParseTicketPolicy(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	r, ok := p.Rule(models.TicketSingle)
	if !ok || r.GracePeriod != 90*time.Minute {
		t.Fatalf("SINGLE grace period wrong: %+v ok=%v", r, ok)
	}
	if r, _ := p.Rule(models.TicketFlexi); r.GracePeriod != 6*time.Hour {
		t.Fatalf("FLEXI grace period wrong: %+v", r)
	}
}

func TestParseTicketPolicyRejectsUnknownFields(t *testing.T) {
	raw := []byte(`
ticket_types:
  SINGLE:
    grace: 90m
`)
	if _, err := ParseTicketPolicy(raw); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadTicketPolicyDefaults(t *testing.T) {
	p, err := LoadTicketPolicy("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := p.Rule(models.TicketSingle); !ok {
		t.Fatalf("default policy should include SINGLE")
	}
	if _, ok := p.Rule("MONTHLY"); ok {
		t.Fatalf("default policy should not include MONTHLY")
	}
}
