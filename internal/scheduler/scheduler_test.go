package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestSchedulerAddDaily(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	s := NewScheduler(loc)
	defer s.Stop()

	if s.Location() != loc {
		t.Errorf("expected location %v, got %v", loc, s.Location())
	}
	if err := s.AddDaily("23:50", func() {}); err != nil {
		t.Errorf("Expected no error adding daily job, got %v", err)
	}
	if err := s.AddDaily("25:00", func() {}); err == nil {
		t.Error("Expected error for invalid clock")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"23:49", 23, 49, false},
		{"00:00", 0, 0, false},
		{" 7:05 ", 7, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"12:5", 0, 0, true},
		{"1250", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q): unexpected error %v", tt.in, err)
			continue
		}
		if h != tt.hour || m != tt.minute {
			t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.minute)
		}
	}
}
