package bot

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// defaultSpinnerSelectors covers the loading indicators of the UI toolkits
// seen on the target pages (APEX, Bootstrap, MUI, plain CSS spinners).
var defaultSpinnerSelectors = []string{
	".fa-spinner",
	".t-Icon--spinner",
	".u-Processing",
	".apex_wait_mask",
	"div.u-Processing-spinner",
	".spinner",
	".spinner-border",
	".loading-spinner",
	".lds-spinner",
	".MuiCircularProgress-root",
}

func (s ScreenshotConfig) spinnerSelectors() []string {
	if selectors := stringList(s.PreparedWaitSelector); len(selectors) > 0 {
		for i, sel := range selectors {
			selectors[i] = strings.TrimSpace(sel)
		}
		return selectors
	}
	return defaultSpinnerSelectors
}

func (s ScreenshotConfig) preparedWaitTimeoutMS() int {
	if s.PreparedWaitTimeoutMS > 0 {
		return s.PreparedWaitTimeoutMS
	}
	return 15000
}

func (s ScreenshotConfig) delayMSBeforePrepared() int {
	if s.DelayMSBeforePrepared != nil {
		return *s.DelayMSBeforePrepared
	}
	return 3000
}

func (s ScreenshotConfig) scrollTopBefore() bool {
	if s.ScrollTopBefore != nil {
		return *s.ScrollTopBefore
	}
	return true
}

func (s ScreenshotConfig) captureAfterCheckin() bool {
	if s.CaptureAfterCheckin != nil {
		return *s.CaptureAfterCheckin
	}
	return true
}

func (s ScreenshotConfig) suffixAfterCheckin() string {
	if s.SuffixAfterCheckin != "" {
		return s.SuffixAfterCheckin
	}
	return "checked-in"
}

// waitIdleAndHideSpinners waits for the page to settle: network-idle (or
// DOM-content-loaded as fallback), then the first spinner selector that
// agrees to become hidden within the timeout. Entirely best-effort.
func waitIdleAndHideSpinners(page pw.Page, shots ScreenshotConfig, timeoutMS int) {
	if err := page.WaitForLoadState(pw.PageWaitForLoadStateOptions{State: pw.LoadStateNetworkidle}); err != nil {
		page.WaitForLoadState(pw.PageWaitForLoadStateOptions{State: pw.LoadStateDomcontentloaded})
	}
	for _, sel := range shots.spinnerSelectors() {
		err := page.Locator(sel).First().WaitFor(pw.LocatorWaitForOptions{
			State:   pw.WaitForSelectorStateHidden,
			Timeout: pw.Float(float64(timeoutMS)),
		})
		if err == nil {
			break
		}
	}
}

// screenshotPath expands the configured template for the student id and
// appends the optional suffix tag plus a YYYYMMDD-HHMMSS timestamp to the
// filename stem. Filenames are collision-free per user and capture time.
func screenshotPath(template, studentID, suffix string, now time.Time) string {
	path := strings.ReplaceAll(template, "{studentId}", studentID)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	if suffix != "" {
		stem = stem + "-" + suffix
	}
	return stem + "-" + now.Format("20060102-150405") + ext
}

// writeScreenshot persists captured PNG bytes, creating parent directories
// as needed. Returns the path on success and "" on any failure; a broken
// capture must never abort the session.
func writeScreenshot(data []byte, path string) string {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("⚠️ Failed to create screenshot directory for %s: %v", path, err)
		return ""
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Printf("⚠️ Failed to save screenshot %s: %v", path, err)
		return ""
	}
	log.Printf("📸 Saved screenshot: %s", path)
	return path
}

// captureScreenshot produces an evidence capture for the given student.
// The "prepared" tag first waits for the page to finish rendering so the
// image shows the populated form, not a loading skeleton. Returns the
// written path, or "" when the capture failed for any reason.
func captureScreenshot(page pw.Page, studentID string, cfg *RunConfig, suffix string) string {
	shots := cfg.Screenshots
	if suffix == "prepared" {
		waitIdleAndHideSpinners(page, shots, shots.preparedWaitTimeoutMS())
		if delay := shots.delayMSBeforePrepared(); delay > 0 {
			page.WaitForTimeout(float64(delay))
		}
	}
	if shots.scrollTopBefore() {
		page.Evaluate("window.scrollTo(0,0)")
	}
	data, err := page.Screenshot(pw.PageScreenshotOptions{FullPage: pw.Bool(shots.FullPage)})
	if err != nil {
		log.Printf("⚠️ Screenshot capture failed for %s: %v", studentID, err)
		return ""
	}
	return writeScreenshot(data, screenshotPath(cfg.screenshotTemplate(), studentID, suffix, time.Now()))
}
