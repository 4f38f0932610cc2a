package bot

import (
	"log"
	"regexp"
	"strings"

	pw "github.com/playwright-community/playwright-go"
)

var verifyHumanPattern = regexp.MustCompile(`(?i)Verify you are human`)

// challengePresent checks the three known signals of a bot-verification
// interstitial. Any lookup error counts as "signal not found".
func challengePresent(page pw.Page) bool {
	if visible, err := page.Locator("text=Verify you are human").First().IsVisible(); err == nil && visible {
		return true
	}
	if visible, err := page.Locator("text=Performance & security by Cloudflare").First().IsVisible(); err == nil && visible {
		return true
	}
	if count, err := page.Locator("iframe[title*='security challenge']").Count(); err == nil && count > 0 {
		return true
	}
	return false
}

// handleChallenge detects a Cloudflare-style challenge interstitial and
// attempts to pass it according to the configured mode: "off" skips the
// check entirely, "auto" tries to tick the verification checkbox, "manual"
// waits for an operator to resolve it out-of-band. Returns true when the
// caller may proceed and false when the challenge still blocks the page.
// It never fails hard; every internal lookup error is swallowed.
func handleChallenge(page pw.Page, cfg CloudflareConfig) bool {
	mode := strings.ToLower(cfg.HandleChallenge)
	if mode == "" {
		mode = "auto"
	}
	if mode == "off" {
		return true
	}
	timeoutMS := cfg.timeoutMS()
	afterDelayMS := cfg.afterCheckDelayMS()

	if !challengePresent(page) {
		return true
	}

	switch mode {
	case "auto", "automatic":
		if err := page.GetByLabel(verifyHumanPattern).Check(); err == nil {
			if err := page.WaitForLoadState(pw.PageWaitForLoadStateOptions{State: pw.LoadStateNetworkidle}); err != nil {
				page.WaitForLoadState(pw.PageWaitForLoadStateOptions{State: pw.LoadStateDomcontentloaded})
			}
			if afterDelayMS > 0 {
				page.WaitForTimeout(float64(afterDelayMS))
			}
		} else {
			// Checkbox not reachable by label; go through the challenge
			// iframe directly.
			frame := page.FrameLocator("iframe[title*='security challenge']").First()
			if err := frame.Locator("input[type='checkbox']").Click(); err == nil && afterDelayMS > 0 {
				page.WaitForTimeout(float64(afterDelayMS))
			}
		}
	case "manual":
		log.Printf("⚠️ Challenge detected. Please resolve it manually if required.")
		page.WaitForTimeout(float64(timeoutMS))
	}

	return !challengePresent(page)
}
