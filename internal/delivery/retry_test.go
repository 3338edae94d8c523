package delivery

import (
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	tests := []struct {
		name     string
		policy   RetryPolicy
		attempts int
		want     time.Duration
	}{
		{
			name:     "first retry uses base",
			policy:   RetryPolicy{Base: time.Second, Max: 5 * time.Minute},
			attempts: 1,
			want:     time.Second,
		},
		{
			name:     "second retry doubles",
			policy:   RetryPolicy{Base: time.Second, Max: 5 * time.Minute},
			attempts: 2,
			want:     2 * time.Second,
		},
		{
			name:     "third retry doubles again",
			policy:   RetryPolicy{Base: time.Second, Max: 5 * time.Minute},
			attempts: 3,
			want:     4 * time.Second,
		},
		{
			name:     "fifth retry",
			policy:   RetryPolicy{Base: time.Second, Max: 5 * time.Minute},
			attempts: 5,
			want:     16 * time.Second,
		},
		{
			name:     "cap applies",
			policy:   RetryPolicy{Base: time.Second, Max: 5 * time.Second},
			attempts: 4,
			want:     5 * time.Second,
		},
		{
			name:     "deep attempt stays at cap",
			policy:   RetryPolicy{Base: time.Second, Max: 5 * time.Minute},
			attempts: 60,
			want:     5 * time.Minute,
		},
		{
			name:     "zero attempts treated as one",
			policy:   RetryPolicy{Base: 2 * time.Second, Max: time.Minute},
			attempts: 0,
			want:     2 * time.Second,
		},
		{
			name:     "zero policy falls back to defaults",
			policy:   RetryPolicy{},
			attempts: 2,
			want:     2 * DefaultBaseBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempts); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	policy := RetryPolicy{Base: time.Second, Max: 5 * time.Minute, JitterPct: 50}

	for i := 0; i < 100; i++ {
		got := policy.Delay(2)
		if got < 2*time.Second || got > 3*time.Second {
			t.Fatalf("Delay(2) with 50%% jitter = %v, want in [2s, 3s]", got)
		}
	}
}

func TestRetryPolicyJitterRespectsCap(t *testing.T) {
	policy := RetryPolicy{Base: time.Second, Max: 2 * time.Second, JitterPct: 100}

	for i := 0; i < 100; i++ {
		if got := policy.Delay(3); got > 2*time.Second {
			t.Fatalf("Delay(3) = %v, exceeds cap %v", got, 2*time.Second)
		}
	}
}
