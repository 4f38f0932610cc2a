package bot

import (
	"encoding/json"
	"log"
	"strings"

	pw "github.com/playwright-community/playwright-go"
)

// stealthInitScript masks the usual automation fingerprints, especially in
// headless mode: webdriver flag, missing chrome object, navigator
// properties, permissions.query noise and the WebGL vendor strings.
const stealthInitScript = `
// Hide webdriver flag
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
// Fake chrome object
window.chrome = { runtime: {} };
// Language and vendor
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'vendor', { get: () => 'Google Inc.' });
Object.defineProperty(navigator, 'platform', { get: () => 'Win32' });
// Patch permissions.query to avoid noisy results
const originalQuery = (navigator.permissions && navigator.permissions.query) ? navigator.permissions.query.bind(navigator.permissions) : null;
if (originalQuery) {
  navigator.permissions.query = (parameters) => {
    if (parameters && parameters.name === 'notifications') {
      return Promise.resolve({ state: Notification.permission });
    }
    return originalQuery(parameters);
  };
}
// WebGL fingerprint softening
const getParameter = WebGLRenderingContext.prototype.getParameter;
WebGLRenderingContext.prototype.getParameter = function(parameter) {
  if (parameter === 37445) return 'Intel(R) UHD Graphics 620';
  if (parameter === 37446) return 'Google Inc. (Intel)';
  return getParameter.call(this, parameter);
};
`

// successSelectors normalizes checkin.success_selector, which the config
// accepts as a plain selector, a comma-separated string, or an array.
func (c CheckinConfig) successSelectors() []string {
	if len(c.SuccessSelector) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(c.SuccessSelector, &one); err == nil {
		var out []string
		for _, part := range strings.Split(one, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	var out []string
	for _, sel := range stringList(c.SuccessSelector) {
		if trimmed := strings.TrimSpace(sel); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// waitAnyVisible waits for the first of the selectors to become visible
// within the timeout. Invalid selectors are skipped.
func waitAnyVisible(page pw.Page, selectors []string, timeoutMS int) bool {
	for _, sel := range selectors {
		err := page.Locator(sel).First().WaitFor(pw.LocatorWaitForOptions{
			State:   pw.WaitForSelectorStateVisible,
			Timeout: pw.Float(float64(timeoutMS)),
		})
		if err == nil {
			return true
		}
	}
	return false
}

// scrollBackToTop scrolls to the top after a short delay, reducing visible
// motion between the click and the evidence capture.
func scrollBackToTop(page pw.Page, delayMS int) {
	if delayMS > 0 {
		page.WaitForTimeout(float64(delayMS))
	}
	page.Evaluate("window.scrollTo(0,0)")
}

// sessionDeps are the side collaborators a session calls best-effort.
// Notifier may be nil.
type sessionDeps struct {
	notifier PhotoNotifier
}

// PhotoNotifier delivers a verification image to a user's chat. All
// implementations must be safe to call from concurrent sessions.
type PhotoNotifier interface {
	SendPhoto(chatID int64, photoPath, caption string) error
}

// runForUser drives one isolated browser session end-to-end for a single
// credential: context creation, navigation, challenge gate, credential
// fill, submit, check-in, verification and evidence capture. Every failure
// exit captures a diagnostic screenshot tagged with the failing stage and
// returns false; the browser context is closed on every path.
func runForUser(browser pw.Browser, url, origin string, user Credential, cfg *RunConfig, deps sessionDeps) bool {
	sid := user.StudentID
	geolocation := resolveGeolocation(cfg.Geolocation)

	contextOptions := pw.BrowserNewContextOptions{
		UserAgent: pw.String(cfg.userAgent()),
		Locale:    pw.String("en-US"),
	}
	if geolocation != nil {
		contextOptions.Geolocation = &pw.Geolocation{
			Latitude:  geolocation.Latitude,
			Longitude: geolocation.Longitude,
			Accuracy:  pw.Float(geolocation.Accuracy),
		}
	}
	context, err := browser.NewContext(contextOptions)
	if err != nil {
		log.Printf("❌ [%s] Failed to create browser context: %v", sid, err)
		return false
	}
	defer context.Close()

	if err := context.AddInitScript(pw.Script{Content: pw.String(stealthInitScript)}); err != nil {
		log.Printf("⚠️ [%s] Failed to inject stealth script: %v", sid, err)
	}
	if geolocation != nil {
		if err := context.GrantPermissions([]string{"geolocation"}, pw.BrowserContextGrantPermissionsOptions{Origin: pw.String(origin)}); err != nil {
			// Some targets do not accept an origin scope.
			context.GrantPermissions([]string{"geolocation"})
		}
	}

	page, err := context.NewPage()
	if err != nil {
		log.Printf("❌ [%s] Failed to open page: %v", sid, err)
		return false
	}

	log.Printf("🌐 [%s] Navigating to: %s", sid, url)
	if _, err := page.Goto(url, pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateDomcontentloaded}); err != nil {
		log.Printf("❌ [%s] Navigation failed: %v", sid, err)
		return false
	}

	if !handleChallenge(page, cfg.Cloudflare) {
		log.Printf("⚠️ [%s] Challenge prevents proceeding for this user.", sid)
		captureScreenshot(page, sid, cfg, "cloudflare-challenge")
		return false
	}

	probeBrowserGeolocation(page, cfg.Geolocation)

	if !fillLoginFields(page, user, cfg) {
		captureScreenshot(page, sid, cfg, "login-error")
		return false
	}

	if cfg.Screenshots.CapturePrepared {
		captureScreenshot(page, sid, cfg, "prepared")
	}

	if !submitLogin(page, sid, cfg) {
		return false
	}
	if cfg.scrollBackAfterClick() {
		scrollBackToTop(page, cfg.scrollBackDelayMS())
	}

	if err := page.WaitForLoadState(pw.PageWaitForLoadStateOptions{State: pw.LoadStateNetworkidle}); err != nil {
		page.WaitForLoadState(pw.PageWaitForLoadStateOptions{State: pw.LoadStateDomcontentloaded})
	}

	timeoutMS := cfg.checkinTimeoutMS()
	pressed := false
	if cfg.Checkin.Selector != "" {
		pressed = page.Click(cfg.Checkin.Selector) == nil
	}
	if !pressed {
		pressed = waitAndClickFirstMatching(page, cfg.checkinButtonNames(), timeoutMS)
	}
	if !pressed {
		// Some target pages reuse the login button label as the check-in
		// action, so retry with "Sign In" before giving up.
		pressed = waitAndClickFirstMatching(page, []string{"Sign In"}, timeoutMS)
	}
	if !pressed {
		log.Printf("❌ [%s] Failed to click the check-in button.", sid)
		captureScreenshot(page, sid, cfg, "checkin-not-found")
		return false
	}
	if cfg.scrollBackAfterClick() {
		scrollBackToTop(page, cfg.scrollBackDelayMS())
	}

	selectors := cfg.Checkin.successSelectors()
	captured := false
	if cfg.Screenshots.captureAfterCheckin() {
		if len(selectors) > 0 {
			waitAnyVisible(page, selectors, timeoutMS)
		}
		waitIdleAndHideSpinners(page, cfg.Screenshots, cfg.Screenshots.preparedWaitTimeoutMS())
		if path := captureScreenshot(page, sid, cfg, cfg.Screenshots.suffixAfterCheckin()); path != "" {
			notifyUserWithPhoto(deps.notifier, user, cfg, path)
		}
		captured = true
	}

	// The check-in click having landed is treated as sufficient; a missing
	// success indicator only warrants a warning.
	if len(selectors) > 0 && !captured {
		if !waitAnyVisible(page, selectors, timeoutMS) {
			log.Printf("⚠️ [%s] Failed to verify success within timeout or invalid selectors.", sid)
		}
	}

	if !captured {
		captureScreenshot(page, sid, cfg, "")
	}

	return true
}

func fillLoginFields(page pw.Page, user Credential, cfg *RunConfig) bool {
	overrides := cfg.Login.Overrides
	if overrides.StudentIDSelector != "" {
		if err := page.Fill(overrides.StudentIDSelector, user.StudentID); err != nil {
			log.Printf("❌ [%s] Failed to fill student id field: %v", user.StudentID, err)
			return false
		}
	} else if err := page.GetByLabel(cfg.studentIDLabel()).Fill(user.StudentID); err != nil {
		log.Printf("❌ [%s] Failed to fill student id field: %v", user.StudentID, err)
		return false
	}
	if overrides.PasswordSelector != "" {
		if err := page.Fill(overrides.PasswordSelector, user.Password); err != nil {
			log.Printf("❌ [%s] Failed to fill password field: %v", user.StudentID, err)
			return false
		}
	} else if err := page.GetByLabel(cfg.passwordLabel()).Fill(user.Password); err != nil {
		log.Printf("❌ [%s] Failed to fill password field: %v", user.StudentID, err)
		return false
	}
	return true
}

func submitLogin(page pw.Page, sid string, cfg *RunConfig) bool {
	clicked := false
	if sel := cfg.Login.Overrides.SubmitSelector; sel != "" {
		if err := page.Click(sel); err != nil {
			captureScreenshot(page, sid, cfg, "submit-click-error")
		} else {
			clicked = true
		}
	}
	if !clicked {
		clicked = clickFirstMatching(page, cfg.submitButtonNames())
	}
	if !clicked {
		log.Printf("❌ [%s] Failed to find the login button.", sid)
		captureScreenshot(page, sid, cfg, "submit-not-found")
		return false
	}
	return true
}

// notifyUserWithPhoto forwards the verification capture to the user's chat
// with a caption naming the subject and student id. Dispatch is async and
// best-effort: send errors only produce a log line.
func notifyUserWithPhoto(notifier PhotoNotifier, user Credential, cfg *RunConfig, photoPath string) {
	if notifier == nil || user.TelegramChatID == 0 {
		return
	}
	caption := "Your attendance has been documented"
	if subject := strings.TrimSpace(cfg.SelectedSubject); subject != "" {
		caption += " For subject: " + subject
	}
	caption += "\nStudent ID: " + user.StudentID
	go func() {
		if err := notifier.SendPhoto(user.TelegramChatID, photoPath, caption); err != nil {
			log.Printf("⚠️ [%s] Failed to send verification photo: %v", user.StudentID, err)
		}
	}()
}
