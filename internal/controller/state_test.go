package controller

import "testing"

func TestCaptureInvalidatedByFullBump(t *testing.T) {
	cell := NewCell()
	g := cell.Acquire()
	cap := g.Set(State{Kind: HostScanning})

	if !cap.CanCapture(cell) {
		t.Fatalf("capture should still be valid immediately after Set")
	}

	g2 := cell.Acquire()
	g2.Set(State{Kind: Waiting})

	if cap.CanCapture(cell) {
		t.Fatalf("capture should be invalidated by a full bump")
	}
}

func TestCaptureSurvivesSharedBump(t *testing.T) {
	cell := NewCell()
	g := cell.Acquire()
	cap := g.Set(State{Kind: HostOk})

	g2 := cell.Acquire()
	g2.IncreaseShared()

	if !cap.CanCapture(cell) {
		t.Fatalf("capture should survive a shared bump")
	}

	g3, ok := cap.TryCapture(cell)
	if !ok {
		t.Fatalf("TryCapture should succeed after a shared bump")
	}
	if g3.Value().Kind != HostOk {
		t.Fatalf("state should be unchanged after a shared bump")
	}
	g3.Release()
}

func TestIndexReflectsSharingRun(t *testing.T) {
	cell := NewCell()
	g := cell.Acquire()
	g.Set(State{Kind: Waiting})

	g2 := cell.Acquire()
	g2.IncreaseShared()
	g3 := cell.Acquire()
	g3.IncreaseShared()

	index, sharing := cell.Index()
	if index != 3 {
		t.Fatalf("index = %d, want 3", index)
	}
	if sharing != 2 {
		t.Fatalf("sharing = %d, want 2", sharing)
	}
}

func TestReplaceMutatesInPlace(t *testing.T) {
	cell := NewCell()
	g := cell.Acquire()
	g.Set(State{Kind: HostOk, Port: 1000})

	g2 := cell.Acquire()
	g2.Replace(func(s State) State {
		s.Port = 2000
		return s
	})

	g3 := cell.Acquire()
	if g3.Value().Port != 2000 {
		t.Fatalf("port = %d, want 2000", g3.Value().Port)
	}
	g3.Release()
}
