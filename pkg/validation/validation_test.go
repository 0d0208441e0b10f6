package validation

import (
	"testing"
	"time"
)

func TestValidatePollInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		wantErr  bool
	}{
		{"one second", time.Second, false},
		{"minimum", MinPollInterval, false},
		{"too short", time.Millisecond, true},
		{"zero", 0, true},
		{"too long", 2 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePollInterval(tt.interval)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePollInterval() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDirection(t *testing.T) {
	for _, d := range []string{"outbound", "inbound"} {
		if err := ValidateDirection(d); err != nil {
			t.Errorf("ValidateDirection(%q) error = %v", d, err)
		}
	}
	if err := ValidateDirection("sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestValidatePartitions(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		wantErr bool
	}{
		{"empty list", nil, false},
		{"all four", []string{"outbound-audio", "outbound-video", "inbound-audio", "inbound-video"}, false},
		{"unknown kind", []string{"outbound-screen"}, true},
		{"empty name", []string{""}, true},
		{"duplicate", []string{"inbound-audio", "inbound-audio"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePartitions(tt.names)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePartitions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMetricKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"outbound-video-loss", false},
		{"inbound-audio-bitrate", false},
		{"inbound-audio-jitter", true},
		{"outbound-video", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateMetricKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMetricKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateICEServerURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"stun:stun.l.google.com:19302", false},
		{"turn:turn.example.com:3478?transport=udp", false},
		{"turns:turn.example.com:5349", false},
		{"http://example.com", true},
		{"stun:", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateICEServerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateICEServerURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
