package validation

import (
	"strings"
	"testing"
)

func TestValidateStreamKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "live_abc123", false},
		{"dots and dashes", "sk-1.2", false},
		{"empty", "", true},
		{"slash", "app/key", true},
		{"space", "a b", true},
		{"too long", strings.Repeat("a", 257), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStreamKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier("app_1", "app id"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateIdentifier("", "app id"); err == nil || !strings.Contains(err.Error(), "app id") {
		t.Errorf("expected field name in error, got %v", err)
	}
}

func TestValidateEventType(t *testing.T) {
	for _, ok := range []string{"stream.live", "stream.offline", "webhook.test"} {
		if err := ValidateEventType(ok); err != nil {
			t.Errorf("ValidateEventType(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "live", "Stream.Live", "stream."} {
		if err := ValidateEventType(bad); err == nil {
			t.Errorf("ValidateEventType(%q) should fail", bad)
		}
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/stream", false},
		{"http://localhost:9000/hook", false},
		{"", true},
		{"ws://example.com", true},
		{"https://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		err := ValidateWebhookURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateWebhookURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateIPOrCIDR(t *testing.T) {
	for _, ok := range []string{"10.0.0.1", "::1", "192.168.0.0/16"} {
		if err := ValidateIPOrCIDR(ok); err != nil {
			t.Errorf("ValidateIPOrCIDR(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "10.0.0", "10.0.0.0/33"} {
		if err := ValidateIPOrCIDR(bad); err == nil {
			t.Errorf("ValidateIPOrCIDR(%q) should fail", bad)
		}
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("héllo", 1, 5, "name"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateStringLength("", 1, 5, "name"); err == nil {
		t.Error("expected min length error")
	}
	if err := ValidateNonEmptyString("   ", "secret"); err == nil {
		t.Error("expected empty string error")
	}
}
