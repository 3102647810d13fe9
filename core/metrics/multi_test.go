package metrics

import (
	"errors"
	"testing"
)

type recordSink struct {
	ticks       int
	validations int
	err         error
}

func (r *recordSink) RecordTick(TickEvent) error {
	r.ticks++
	return r.err
}

func (r *recordSink) RecordValidation(ValidationEvent) error {
	r.validations++
	return nil
}

// tickOnly implements only the mandatory interface.
type tickOnly struct{ ticks int }

func (t *tickOnly) RecordTick(TickEvent) error {
	t.ticks++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	s3 := &tickOnly{}
	m := NewMultiSink(s1, s2, s3)
	if err := m.RecordTick(TickEvent{Task: "simulation"}); err != nil {
		t.Fatalf("record tick: %v", err)
	}
	if err := m.RecordValidation(ValidationEvent{}); err != nil {
		t.Fatalf("record validation: %v", err)
	}
	if err := m.RecordSimulation(SimulationEvent{}); err != nil {
		t.Fatalf("record simulation: %v", err)
	}
	if s1.ticks != 1 || s2.ticks != 1 || s3.ticks != 1 {
		t.Fatalf("ticks not forwarded")
	}
	if s1.validations != 1 || s2.validations != 1 {
		t.Fatalf("validations not forwarded")
	}
}

func TestMultiSinkFirstError(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordTick(TickEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s2.ticks != 0 {
		t.Fatalf("second sink should not be reached")
	}
}
