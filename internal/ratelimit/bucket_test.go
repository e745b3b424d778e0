package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestNewBucket_Validation(t *testing.T) {
	testCases := []struct {
		name           string
		bytesPerSecond int
		expErr         error
	}{
		{name: "negative", bytesPerSecond: -1, expErr: ErrMustNotBeZero},
		{name: "zero means unlimited", bytesPerSecond: 0},
		{name: "valid", bytesPerSecond: 1000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NewBucket(tc.bytesPerSecond, nil)
			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Errorf("exp err %v; got %v", tc.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("exp nil err, got %v", err)
			}
			if b == nil {
				t.Fatal("exp non-nil Bucket")
			}
		})
	}
}

func TestBucket_UnlimitedNeverDelays(t *testing.T) {
	b, err := NewBucket(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d := b.Reserve(1 << 20); d != 0 {
		t.Fatalf("exp zero delay for unlimited bucket, got %v", d)
	}
}

func TestBucket_WithinBurstIsImmediate(t *testing.T) {
	b, err := NewBucket(1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	// burst is bytesPerSecond/4 = 250; well within that should not delay.
	if d := b.Reserve(100); d != 0 {
		t.Fatalf("exp zero delay within burst, got %v", d)
	}
}

func TestBucket_ExceedingRateDelays(t *testing.T) {
	b, err := NewBucket(100, nil)
	if err != nil {
		t.Fatal(err)
	}
	// burst = 25; draining it and reserving again should produce growing delay.
	b.Reserve(25)
	d := b.Reserve(100)
	if d <= 0 {
		t.Fatalf("exp positive delay once burst is exhausted, got %v", d)
	}
}

func TestBucket_SetLimit(t *testing.T) {
	b, err := NewBucket(100, nil)
	if err != nil {
		t.Fatal(err)
	}
	b.SetLimit(0)
	if d := b.Reserve(1 << 20); d != 0 {
		t.Fatalf("exp zero delay after disabling limit, got %v", d)
	}
	b.SetLimit(1_000_000)
	if d := b.Reserve(1000); d != 0 {
		t.Fatalf("exp zero delay for small reservation under high limit, got %v", d)
	}
}

func TestBucket_QuarterSecondBurstBound(t *testing.T) {
	// The documented property from the connection's throughput budget: over
	// any 1-second window, cumulative admitted bytes should not exceed
	// rate + rate/4.
	const bps = 1000
	b, err := NewBucket(bps, nil)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	admitted := 0
	for admitted < bps+bps/4 {
		d := b.Reserve(50)
		if d > 0 {
			break
		}
		admitted += 50
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("admitting the burst allowance unexpectedly took %v", time.Since(start))
	}
	if admitted > bps+bps/4 {
		t.Fatalf("admitted %d bytes without delay, exceeding rate+rate/4=%d", admitted, bps+bps/4)
	}
}
