package collab

import "testing"

func TestFixedWindowFlowControllerCanSend(t *testing.T) {
	fc := NewFixedWindowFlowController(100, 200)
	if !fc.CanSend(100) {
		t.Fatal("expected to be able to send up to the window size")
	}
	if fc.CanSend(101) {
		t.Fatal("expected to reject sends over the window size")
	}
}

func TestFixedWindowFlowControllerTracksInFlight(t *testing.T) {
	fc := NewFixedWindowFlowController(100, 200)
	fc.OnDataSent(60)
	if fc.BytesInFlight() != 60 {
		t.Fatalf("bytes in flight = %d, want 60", fc.BytesInFlight())
	}
	if fc.CanSend(50) {
		t.Fatal("60+50 exceeds the 100-byte window")
	}
	fc.UpdateWindow(60)
	if fc.BytesInFlight() != 0 {
		t.Fatalf("bytes in flight = %d, want 0 after ack", fc.BytesInFlight())
	}
	if !fc.CanSend(100) {
		t.Fatal("expected full window available after ack")
	}
}
