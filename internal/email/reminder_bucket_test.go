package email

import "testing"

func TestReminderBucketBoundaries(t *testing.T) {
	tests := []struct {
		fraction float64
		label    string
	}{
		{0.0, "URGENT"},
		{0.10, "URGENT"},
		{0.11, "Critical"},
		{0.33, "Critical"},
		{0.34, "Past halfway"},
		{0.66, "Past halfway"},
		{0.67, "Reminder"},
		{1.0, "Reminder"},
	}
	for _, tt := range tests {
		got := ReminderBucket(tt.fraction)
		if got.Label != tt.label {
			t.Errorf("ReminderBucket(%v).Label = %q, want %q", tt.fraction, got.Label, tt.label)
		}
	}
}
