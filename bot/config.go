// Package bot drives automated attendance check-ins: one isolated browser
// session per configured student credential, fanned out over a bounded
// worker pool.
package bot

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credential identifies one student account. StudentID is the identity key
// within a run; Subjects and TelegramChatID are optional front-end extras.
type Credential struct {
	StudentID      string   `json:"studentId"`
	Password       string   `json:"password"`
	Username       string   `json:"username,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Subjects       []string `json:"subjects,omitempty"`
	TelegramChatID int64    `json:"telegram_chat_id,omitempty"`
}

// HasSubject reports whether the credential is enrolled in the subject.
func (c Credential) HasSubject(subject string) bool {
	for _, s := range c.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// GeoConfig selects how the geolocation presented to the page is determined.
// Source is "fixed", "ip" or "browser".
type GeoConfig struct {
	Source         string   `json:"source,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Accuracy       *float64 `json:"accuracy,omitempty"`
	WaitMS         *int     `json:"wait_ms,omitempty"`
	RequireBrowser *bool    `json:"require_browser,omitempty"`
}

// waitMS is the post-probe settle wait; an explicit zero disables it.
func (g GeoConfig) waitMS() int {
	if g.WaitMS != nil {
		return *g.WaitMS
	}
	return 4000
}

// CloudflareConfig controls the bot-verification interstitial handling.
// HandleChallenge is "auto", "manual" or "off".
type CloudflareConfig struct {
	HandleChallenge   string `json:"handle_challenge,omitempty"`
	TimeoutMS         *int   `json:"timeout_ms,omitempty"`
	AfterCheckDelayMS *int   `json:"after_check_delay_ms,omitempty"`
}

func (c CloudflareConfig) timeoutMS() int {
	if c.TimeoutMS != nil {
		return *c.TimeoutMS
	}
	return 20000
}

func (c CloudflareConfig) afterCheckDelayMS() int {
	if c.AfterCheckDelayMS != nil {
		return *c.AfterCheckDelayMS
	}
	return 1500
}

// BrowserConfig tunes the Chromium launch shared by all sessions of a run.
type BrowserConfig struct {
	UserAgent  string   `json:"user_agent,omitempty"`
	LaunchArgs []string `json:"launch_args,omitempty"`
}

// LoginOverrides are explicit CSS selectors used instead of label lookup.
type LoginOverrides struct {
	StudentIDSelector string `json:"student_id_selector,omitempty"`
	PasswordSelector  string `json:"password_selector,omitempty"`
	SubmitSelector    string `json:"submit_selector,omitempty"`
}

// LoginConfig describes how the credential form is located and submitted.
type LoginConfig struct {
	StudentIDLabel    string         `json:"student_id_label,omitempty"`
	PasswordLabel     string         `json:"password_label,omitempty"`
	SubmitButtonNames []string       `json:"submit_button_names,omitempty"`
	Overrides         LoginOverrides `json:"overrides,omitempty"`
}

// CheckinConfig describes the check-in control and its success indicator.
// SuccessSelector accepts a single selector, a comma-separated list, or a
// JSON array; see successSelectors.
type CheckinConfig struct {
	ButtonNames     []string        `json:"button_names,omitempty"`
	TimeoutMS       int             `json:"timeout_ms,omitempty"`
	Selector        string          `json:"selector,omitempty"`
	SuccessSelector json.RawMessage `json:"success_selector,omitempty"`
}

// ScreenshotConfig controls evidence captures.
type ScreenshotConfig struct {
	FullPage              bool            `json:"full_page,omitempty"`
	ScrollTopBefore       *bool           `json:"scroll_top_before,omitempty"`
	CapturePrepared       bool            `json:"capture_prepared,omitempty"`
	CaptureAfterCheckin   *bool           `json:"capture_after_checkin,omitempty"`
	SuffixAfterCheckin    string          `json:"suffix_after_checkin,omitempty"`
	DelayMSBeforePrepared *int            `json:"delay_ms_before_prepared,omitempty"`
	PreparedWaitTimeoutMS int             `json:"prepared_wait_timeout_ms,omitempty"`
	PreparedWaitSelector  json.RawMessage `json:"prepared_wait_selector,omitempty"`
}

// UIConfig covers small post-click settle behaviour affecting the captures.
type UIConfig struct {
	ScrollBackAfterClick *bool `json:"scroll_back_after_click,omitempty"`
	ScrollBackDelayMS    *int  `json:"scroll_back_delay_ms,omitempty"`
}

// NotifyConfig names the Telegram targets for run-level notifications.
type NotifyConfig struct {
	InitiatorChatID      int64 `json:"initiator_chat_id,omitempty"`
	ChatID               int64 `json:"chat_id,omitempty"`
	StartedMessageChatID int64 `json:"started_message_chat_id,omitempty"`
	StartedMessageID     int64 `json:"started_message_id,omitempty"`
}

// RunConfig is the full configuration for one orchestrator invocation.
// It is read once at run start and treated as immutable afterwards.
type RunConfig struct {
	URL                string           `json:"url"`
	Users              []Credential     `json:"users"`
	ParallelBrowsers   int              `json:"parallel_browsers,omitempty"`
	Geolocation        GeoConfig        `json:"geolocation,omitempty"`
	Cloudflare         CloudflareConfig `json:"cloudflare,omitempty"`
	Browser            BrowserConfig    `json:"browser,omitempty"`
	Login              LoginConfig      `json:"login,omitempty"`
	Checkin            CheckinConfig    `json:"checkin,omitempty"`
	Screenshots        ScreenshotConfig `json:"screenshots,omitempty"`
	UI                 UIConfig         `json:"ui,omitempty"`
	SelectedSubject    string           `json:"selected_subject,omitempty"`
	Notify             NotifyConfig     `json:"notify,omitempty"`
	ScreenshotTemplate string           `json:"screenshot_template,omitempty"`
	OpenOutputDirAfter bool             `json:"open_output_dir_after_run,omitempty"`
}

// SessionResult is the per-credential outcome collected by the orchestrator.
type SessionResult struct {
	StudentID string `json:"student_id"`
	Success   bool   `json:"success"`
}

// LoadConfig reads and decodes a JSON run configuration file.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %v", path, err)
	}
	return &cfg, nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"

var defaultLaunchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-features=IsolateOrigins,site-per-process",
	"--no-first-run",
	"--no-default-browser-check",
}

func (c *RunConfig) userAgent() string {
	if c.Browser.UserAgent != "" {
		return c.Browser.UserAgent
	}
	return defaultUserAgent
}

func (c *RunConfig) launchArgs() []string {
	if len(c.Browser.LaunchArgs) > 0 {
		return c.Browser.LaunchArgs
	}
	return defaultLaunchArgs
}

func (c *RunConfig) studentIDLabel() string {
	if c.Login.StudentIDLabel != "" {
		return c.Login.StudentIDLabel
	}
	return "Student ID"
}

func (c *RunConfig) passwordLabel() string {
	if c.Login.PasswordLabel != "" {
		return c.Login.PasswordLabel
	}
	return "Password"
}

func (c *RunConfig) submitButtonNames() []string {
	if len(c.Login.SubmitButtonNames) > 0 {
		return c.Login.SubmitButtonNames
	}
	return []string{"Sign In", "Login"}
}

func (c *RunConfig) checkinButtonNames() []string {
	if len(c.Checkin.ButtonNames) > 0 {
		return c.Checkin.ButtonNames
	}
	return []string{"Check-In"}
}

func (c *RunConfig) checkinTimeoutMS() int {
	if c.Checkin.TimeoutMS > 0 {
		return c.Checkin.TimeoutMS
	}
	return 15000
}

func (c *RunConfig) screenshotTemplate() string {
	if c.ScreenshotTemplate != "" {
		return c.ScreenshotTemplate
	}
	return "output/{studentId}.png"
}

func (c *RunConfig) scrollBackAfterClick() bool {
	if c.UI.ScrollBackAfterClick != nil {
		return *c.UI.ScrollBackAfterClick
	}
	return true
}

func (c *RunConfig) scrollBackDelayMS() int {
	if c.UI.ScrollBackDelayMS != nil {
		return *c.UI.ScrollBackDelayMS
	}
	return 200
}

// stringList decodes a raw JSON value that may be a plain string or an
// array of strings. Used for selector fields the config accepts both ways.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		var out []string
		for _, s := range many {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
