package deadline

import (
	"testing"
	"time"
)

func TestTimer_FiresAfterReset(t *testing.T) {
	d := NewTimer()
	d.Reset(10 * time.Millisecond)
	select {
	case <-d.C():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer did not fire")
	}
}

func TestTimer_StopPreventsFire(t *testing.T) {
	d := NewTimer()
	d.Reset(50 * time.Millisecond)
	d.Stop()
	select {
	case <-d.C():
		t.Fatal("stopped timer should not fire")
	case <-time.After(100 * time.Millisecond):
	}
	if d.Active() {
		t.Fatal("expected Active() false after Stop")
	}
}

func TestTimer_ResetRearms(t *testing.T) {
	d := NewTimer()
	d.Reset(10 * time.Millisecond)
	<-d.C()
	d.Reset(10 * time.Millisecond)
	select {
	case <-d.C():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer did not re-fire after Reset")
	}
}

func TestEffectiveDeadline(t *testing.T) {
	start := time.Now()
	d := EffectiveDeadline(start, 10*time.Second, false)
	if !d.Equal(start.Add(10 * time.Second)) {
		t.Fatalf("got %v want %v", d, start.Add(10*time.Second))
	}
	d2 := EffectiveDeadline(start, 10*time.Second, true)
	if !d2.Equal(start.Add(20 * time.Second)) {
		t.Fatalf("got %v want %v (doubled while resolving)", d2, start.Add(20*time.Second))
	}
}
