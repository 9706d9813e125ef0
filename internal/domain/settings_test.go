package domain

import (
	"errors"
	"testing"
	"time"
)

func validSettings() *Settings {
	return &Settings{
		EnabledTypes:    []string{"post"},
		QuotaMode:       QuotaFixed,
		QuotaValue:      10,
		WindowStartHour: 9,
		WindowEndHour:   17,
		MinItemAgeDays:  30,
		CategoryFilter:  CategoryFilterNone,
		RateLimitWindow: DefaultRateWindow,
		RateLimitMax:    1,
		SiteKey:         "example.org",
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid defaults", func(*Settings) {}, false},
		{"empty enabled types", func(s *Settings) { s.EnabledTypes = nil }, true},
		{"unknown quota mode", func(s *Settings) { s.QuotaMode = "hourly" }, true},
		{"fixed quota zero", func(s *Settings) { s.QuotaValue = 0 }, true},
		{"fixed quota above cap", func(s *Settings) { s.QuotaValue = MaxQuota + 1 }, true},
		{"fixed quota at cap", func(s *Settings) { s.QuotaValue = MaxQuota }, false},
		{"percentage quota valid", func(s *Settings) {
			s.QuotaMode = QuotaPercentage
			s.QuotaValue = 100
		}, false},
		{"percentage quota above 100", func(s *Settings) {
			s.QuotaMode = QuotaPercentage
			s.QuotaValue = 101
		}, true},
		{"window start negative", func(s *Settings) { s.WindowStartHour = -1 }, true},
		{"window end past midnight", func(s *Settings) { s.WindowEndHour = 25 }, true},
		{"zero-width window", func(s *Settings) {
			s.WindowStartHour = 9
			s.WindowEndHour = 9
		}, true},
		{"inverted window", func(s *Settings) {
			s.WindowStartHour = 17
			s.WindowEndHour = 9
		}, true},
		{"full-day window", func(s *Settings) {
			s.WindowStartHour = 0
			s.WindowEndHour = 24
		}, false},
		{"age below floor", func(s *Settings) { s.MinItemAgeDays = MinAgeDays - 1 }, true},
		{"age above ceiling", func(s *Settings) { s.MinItemAgeDays = MaxAgeDays + 1 }, true},
		{"whitelist without ids", func(s *Settings) { s.CategoryFilter = CategoryFilterWhitelist }, true},
		{"whitelist with ids", func(s *Settings) {
			s.CategoryFilter = CategoryFilterWhitelist
			s.CategoryIDs = []int64{3}
		}, false},
		{"unknown category filter", func(s *Settings) { s.CategoryFilter = "greylist" }, true},
		{"rate window too short", func(s *Settings) { s.RateLimitWindow = time.Millisecond }, true},
		{"rate max zero", func(s *Settings) { s.RateLimitMax = 0 }, true},
		{"missing site key", func(s *Settings) { s.SiteKey = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !errors.Is(err, ErrInvalidSettings) {
					t.Errorf("Validate() error = %v, want ErrInvalidSettings", err)
				}
			} else if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestSettingsLocation(t *testing.T) {
	s := validSettings()

	loc, err := s.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc != time.UTC {
		t.Errorf("empty timezone resolved to %v, want UTC", loc)
	}

	s.Timezone = "America/Toronto"
	loc, err = s.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc.String() != "America/Toronto" {
		t.Errorf("Location() = %v", loc)
	}

	s.Timezone = "Mars/Olympus"
	if _, err := s.Location(); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("invalid timezone error = %v, want ErrInvalidSettings", err)
	}
}
