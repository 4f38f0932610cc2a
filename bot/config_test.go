package bot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"url": "https://example.edu/checkin",
		"users": [
			{"studentId": "A1", "password": "p", "subjects": ["Math"], "telegram_chat_id": 42},
			{"studentId": "A2", "password": "q"}
		],
		"parallel_browsers": 3,
		"geolocation": {"source": "fixed", "latitude": 3.1, "longitude": 101.6, "accuracy": 50},
		"checkin": {"button_names": ["Check-In"], "timeout_ms": 9000, "success_selector": ".alert-success, .t-Alert--success"},
		"selected_subject": "Math"
	}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.URL != "https://example.edu/checkin" {
		t.Errorf("unexpected url: %s", cfg.URL)
	}
	if len(cfg.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(cfg.Users))
	}
	if cfg.Users[0].TelegramChatID != 42 {
		t.Errorf("unexpected chat id: %d", cfg.Users[0].TelegramChatID)
	}
	if !cfg.Users[0].HasSubject("Math") || cfg.Users[1].HasSubject("Math") {
		t.Error("subject membership mismatch")
	}
	if cfg.ParallelBrowsers != 3 {
		t.Errorf("unexpected parallel_browsers: %d", cfg.ParallelBrowsers)
	}
	if got := cfg.Checkin.successSelectors(); !reflect.DeepEqual(got, []string{".alert-success", ".t-Alert--success"}) {
		t.Errorf("unexpected success selectors: %v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid config file")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &RunConfig{}
	if got := cfg.submitButtonNames(); !reflect.DeepEqual(got, []string{"Sign In", "Login"}) {
		t.Errorf("unexpected submit button names: %v", got)
	}
	if got := cfg.checkinButtonNames(); !reflect.DeepEqual(got, []string{"Check-In"}) {
		t.Errorf("unexpected check-in button names: %v", got)
	}
	if got := cfg.checkinTimeoutMS(); got != 15000 {
		t.Errorf("unexpected check-in timeout: %d", got)
	}
	if got := cfg.studentIDLabel(); got != "Student ID" {
		t.Errorf("unexpected student id label: %s", got)
	}
	if got := cfg.passwordLabel(); got != "Password" {
		t.Errorf("unexpected password label: %s", got)
	}
	if got := cfg.screenshotTemplate(); got != "output/{studentId}.png" {
		t.Errorf("unexpected screenshot template: %s", got)
	}
	if !cfg.scrollBackAfterClick() {
		t.Error("scroll back after click should default on")
	}
	if got := cfg.scrollBackDelayMS(); got != 200 {
		t.Errorf("unexpected scroll back delay: %d", got)
	}
	if cfg.userAgent() == "" {
		t.Error("expected a default user agent")
	}
	if len(cfg.launchArgs()) == 0 {
		t.Error("expected default launch args")
	}
}

func TestTimingDefaultsPreserveExplicitZero(t *testing.T) {
	var geo GeoConfig
	var cf CloudflareConfig
	if geo.waitMS() != 4000 {
		t.Errorf("unexpected default wait: %d", geo.waitMS())
	}
	if cf.timeoutMS() != 20000 || cf.afterCheckDelayMS() != 1500 {
		t.Errorf("unexpected challenge defaults: %d, %d", cf.timeoutMS(), cf.afterCheckDelayMS())
	}

	// An explicit zero in the config is a real value, not "use the default".
	raw := `{
		"geolocation": {"source": "browser", "wait_ms": 0},
		"cloudflare": {"handle_challenge": "manual", "timeout_ms": 0, "after_check_delay_ms": 0}
	}`
	var cfg RunConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Geolocation.waitMS() != 0 {
		t.Errorf("explicit zero wait collapsed to %d", cfg.Geolocation.waitMS())
	}
	if cfg.Cloudflare.timeoutMS() != 0 {
		t.Errorf("explicit zero timeout collapsed to %d", cfg.Cloudflare.timeoutMS())
	}
	if cfg.Cloudflare.afterCheckDelayMS() != 0 {
		t.Errorf("explicit zero delay collapsed to %d", cfg.Cloudflare.afterCheckDelayMS())
	}
}

func TestSuccessSelectorVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", ``, nil},
		{"single", `".alert-success"`, []string{".alert-success"}},
		{"comma", `".a, .b"`, []string{".a", ".b"}},
		{"array", `[".a", ".b"]`, []string{".a", ".b"}},
	}
	for _, tc := range cases {
		cfg := CheckinConfig{SuccessSelector: json.RawMessage(tc.raw)}
		if got := cfg.successSelectors(); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSpinnerSelectors(t *testing.T) {
	var shots ScreenshotConfig
	if got := shots.spinnerSelectors(); len(got) == 0 {
		t.Fatal("expected default spinner selectors")
	}
	shots.PreparedWaitSelector = json.RawMessage(`".my-spinner"`)
	if got := shots.spinnerSelectors(); !reflect.DeepEqual(got, []string{".my-spinner"}) {
		t.Errorf("unexpected spinner selectors: %v", got)
	}
	shots.PreparedWaitSelector = json.RawMessage(`[".a", "", ".b"]`)
	if got := shots.spinnerSelectors(); !reflect.DeepEqual(got, []string{".a", ".b"}) {
		t.Errorf("unexpected spinner selectors: %v", got)
	}
}
