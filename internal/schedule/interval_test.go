package schedule

import (
	"testing"
	"time"
)

func TestIntervalNextWithinBounds(t *testing.T) {
	iv := DefaultInterval()
	for i := 0; i < 10000; i++ {
		d := iv.Next()
		if d < 45*time.Second || d > 120*time.Second {
			t.Fatalf("draw %d out of range: %s", i, d)
		}
		if d%time.Millisecond != 0 {
			t.Fatalf("draw %s is not whole milliseconds", d)
		}
	}
}

func TestIntervalNextInclusiveEnds(t *testing.T) {
	tests := []struct {
		name string
		pick func(n int64) int64
		want time.Duration
	}{
		{name: "lowest", pick: func(int64) int64 { return 0 }, want: 45000 * time.Millisecond},
		{name: "highest", pick: func(n int64) int64 { return n - 1 }, want: 120000 * time.Millisecond},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			iv := DefaultInterval()
			iv.Rand = tc.pick
			if got := iv.Next(); got != tc.want {
				t.Fatalf("Next() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestIntervalFixedWindow(t *testing.T) {
	iv := Interval{Min: time.Second, Max: time.Second}
	if got := iv.Next(); got != time.Second {
		t.Fatalf("Next() = %s, want 1s", got)
	}
}

func TestIntervalValidate(t *testing.T) {
	tests := []struct {
		name    string
		iv      Interval
		wantErr bool
	}{
		{name: "default", iv: DefaultInterval()},
		{name: "zero-min", iv: Interval{Max: time.Second}, wantErr: true},
		{name: "inverted", iv: Interval{Min: 2 * time.Second, Max: time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			err := tc.iv.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
