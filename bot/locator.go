package bot

import (
	"regexp"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// clickTimeoutMS bounds each individual click attempt so one missing
// candidate cannot stall a whole locator pass.
const clickTimeoutMS = 2000

// pollIntervalMS is the retry interval of waitAndClickFirstMatching.
const pollIntervalMS = 400

// clickFirstMatching walks the candidate names in order and clicks the
// first interactive control that matches, trying for each name:
//  1. an accessible role=button whose name matches (case-insensitive),
//  2. a plain text match anywhere on the page,
//  3. any button element whose text content matches,
//  4. buttons wrapping an inner label span, then the label span itself.
//
// Ordering is significant: all strategies for one name are exhausted
// before the next name is tried. Returns true on the first successful
// click, false if no candidate matched.
func clickFirstMatching(page pw.Page, names []string) bool {
	for _, name := range names {
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(name))
		if err != nil {
			continue
		}
		if clickIfPresent(page.GetByRole(pw.AriaRole("button"), pw.PageGetByRoleOptions{Name: re})) {
			return true
		}
		if clickIfPresent(page.Locator("text=" + name).First()) {
			return true
		}
		if clickIfPresent(page.Locator("button").Filter(pw.LocatorFilterOptions{HasText: re}).First()) {
			return true
		}
		// Some target UIs render buttons as an outer <button> around an
		// inner label span; match both levels.
		if clickIfPresent(page.Locator("button:has(span.t-Button-label)").Filter(pw.LocatorFilterOptions{HasText: re}).First()) {
			return true
		}
		if clickIfPresent(page.Locator("span.t-Button-label").Filter(pw.LocatorFilterOptions{HasText: re}).First()) {
			return true
		}
	}
	return false
}

func clickIfPresent(locator pw.Locator) bool {
	count, err := locator.Count()
	if err != nil || count == 0 {
		return false
	}
	return locator.Click(pw.LocatorClickOptions{Timeout: pw.Float(clickTimeoutMS)}) == nil
}

// waitAndClickFirstMatching repeats the full clickFirstMatching pass every
// pollIntervalMS until one click lands or timeoutMS elapses. The target UI
// renders asynchronously, so the control may simply not exist yet on the
// first passes.
func waitAndClickFirstMatching(page pw.Page, names []string, timeoutMS int) bool {
	return pollUntil(time.Duration(timeoutMS)*time.Millisecond, pollIntervalMS*time.Millisecond, func() bool {
		return clickFirstMatching(page, names)
	})
}
