package cid

import "testing"

func TestEncodeParseRoundTrip(t *testing.T) {
	g := NewGenerator(1, 42, 7000)
	id, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(id) < MinLen {
		t.Fatalf("id length %d below minimum %d", len(id), MinLen)
	}
	params, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.ProcessID != 1 || params.WorkerID != 42 || params.HostID != 7000 {
		t.Errorf("got %+v", params)
	}
}

func TestParseRejectsShortID(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for connection id shorter than the minimum")
	}
}

func TestProcessIDMasksToOneBit(t *testing.T) {
	g := NewGenerator(0xFF, 0, 0)
	id, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	params, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.ProcessID != 1 {
		t.Errorf("process id = %d, want 1 (masked)", params.ProcessID)
	}
}

func TestManagerIssueAndRetire(t *testing.T) {
	m := NewManager(NewGenerator(0, 1, 1), 2)
	a, err := m.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Issue(); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Issue(); err == nil {
		t.Error("expected error once maxActive is reached")
	}
	m.Retire(a)
	if len(m.Active()) != 1 {
		t.Errorf("active count = %d, want 1 after retiring one id", len(m.Active()))
	}
	if _, err := m.Issue(); err != nil {
		t.Fatalf("Issue after retire: %v", err)
	}
}
