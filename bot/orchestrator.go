package bot

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pw "github.com/playwright-community/playwright-go"

	"attendbot/eventbus"
)

// Notifier is the messaging channel used for run notifications. All calls
// are treated as fire-and-forget by the orchestrator.
type Notifier interface {
	PhotoNotifier
	SendMessage(chatID int64, text string) error
	DeleteMessage(chatID, messageID int64) error
}

// EventPublisher receives run progress events. *eventbus.NATSBus satisfies
// it.
type EventPublisher interface {
	Publish(ctx context.Context, evt eventbus.RunEvent) error
}

// Orchestrator fans one run out across a bounded pool of independent
// browser sessions and aggregates their results. Notifier and Bus are
// optional; Status is always populated.
type Orchestrator struct {
	Config   *RunConfig
	Status   *RunStatus
	Notifier Notifier
	Bus      EventPublisher
	RunID    string

	// runSession is swappable in tests so orchestration can be exercised
	// without launching browsers.
	runSession func(user Credential, url, origin string, headless bool) bool
}

// NewOrchestrator builds an orchestrator for one run of the given config.
func NewOrchestrator(cfg *RunConfig) *Orchestrator {
	return &Orchestrator{
		Config: cfg,
		Status: NewRunStatus(),
		RunID:  uuid.New().String(),
	}
}

// headlessFromEnv reads the process-wide HEADLESS flag once per run.
func headlessFromEnv() bool {
	v := strings.TrimSpace(os.Getenv("HEADLESS"))
	return v == "1" || v == "true" || v == "True"
}

// eligibleUsers applies the subject filter. With zero credentials left the
// run degrades to a single anonymous session, which amounts to a
// connectivity check.
func (o *Orchestrator) eligibleUsers() []Credential {
	users := o.Config.Users
	subject := strings.TrimSpace(o.Config.SelectedSubject)
	if subject != "" {
		var filtered []Credential
		for _, u := range users {
			if u.HasSubject(subject) {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if len(users) == 0 {
		log.Printf("⚠️ No user list found in config. Trying once without credentials.")
		users = []Credential{{}}
	}
	return users
}

// Run executes every eligible session concurrently and returns one result
// per credential, in completion order. The only fatal error is an
// unresolved target URL; per-session failures surface as success=false.
func (o *Orchestrator) Run() ([]SessionResult, error) {
	cfg := o.Config
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL not specified; pass --url or set it in the config")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", cfg.URL)
	}
	origin := parsed.Scheme + "://" + parsed.Host

	users := o.eligibleUsers()
	headless := headlessFromEnv()

	parallel := cfg.ParallelBrowsers
	if parallel <= 0 {
		parallel = len(users)
	}
	log.Printf("🚀 Launching browsers in parallel: %d, Headless: %v", parallel, headless)

	if o.Status == nil {
		o.Status = NewRunStatus()
	}
	subject := strings.TrimSpace(cfg.SelectedSubject)
	o.Status.Begin(subject, len(users))
	o.publishEvent(eventbus.RunEvent{Type: eventbus.TypeRunStarted, Subject: subject, Total: len(users)})

	runSession := o.runSession
	if runSession == nil {
		runSession = o.launchSession
	}

	sem := make(chan struct{}, parallel)
	resultCh := make(chan SessionResult, len(users))
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u Credential) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			ok := runSession(u, cfg.URL, origin, headless)
			resultCh <- SessionResult{StudentID: u.StudentID, Success: ok}
		}(u)
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var results []SessionResult
	for res := range resultCh {
		results = append(results, res)
		o.Status.Record(res)
		success := res.Success
		o.publishEvent(eventbus.RunEvent{
			Type:      eventbus.TypeSessionCompleted,
			Subject:   subject,
			StudentID: res.StudentID,
			Success:   &success,
		})
	}

	log.Printf("📋 Summary:")
	succeeded := 0
	for _, res := range results {
		outcome := "Failure"
		if res.Success {
			outcome = "Success"
			succeeded++
		}
		log.Printf("- %s: %s", res.StudentID, outcome)
	}
	log.Printf("✅ Automation process completed.")

	o.Status.Finish()
	o.publishEvent(eventbus.RunEvent{
		Type:      eventbus.TypeRunCompleted,
		Subject:   subject,
		Total:     len(results),
		Succeeded: succeeded,
	})

	o.sendCompletionNotification(subject)

	if cfg.OpenOutputDirAfter {
		openOutputDir(cfg.screenshotTemplate())
	}

	return results, nil
}

// sendCompletionNotification deletes any recorded "run started" message and
// sends the final completion message. Both calls are best-effort.
func (o *Orchestrator) sendCompletionNotification(subject string) {
	if o.Notifier == nil {
		return
	}
	notify := o.Config.Notify
	if notify.StartedMessageChatID != 0 && notify.StartedMessageID != 0 {
		if err := o.Notifier.DeleteMessage(notify.StartedMessageChatID, notify.StartedMessageID); err != nil {
			log.Printf("⚠️ Failed to delete started message: %v", err)
		}
	}
	chatID := notify.InitiatorChatID
	if chatID == 0 {
		chatID = notify.ChatID
	}
	if chatID == 0 {
		return
	}
	if subject == "" {
		subject = "All"
	}
	if err := o.Notifier.SendMessage(chatID, fmt.Sprintf("Preparation finished for '%s' ✅", subject)); err != nil {
		log.Printf("⚠️ Failed to send completion message: %v", err)
	}
}

func (o *Orchestrator) publishEvent(evt eventbus.RunEvent) {
	if o.Bus == nil {
		return
	}
	evt.EventID = eventbus.NewEventID("run_", time.Now())
	evt.RunID = o.RunID
	evt.Timestamp = time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Bus.Publish(ctx, evt); err != nil {
		log.Printf("⚠️ Failed to publish %s event: %v", evt.Type, err)
	}
}

// launchSession runs one credential inside its own Playwright runtime and
// browser process. Sessions deliberately never share browser or context
// state, so one user's failure or detection cannot contaminate another's
// fingerprint or cookies.
func (o *Orchestrator) launchSession(user Credential, targetURL, origin string, headless bool) bool {
	driver, err := pw.Run()
	if err != nil {
		log.Printf("❌ [%s] Failed to start Playwright: %v", user.StudentID, err)
		return false
	}
	defer driver.Stop()

	browser, err := driver.Chromium.Launch(pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(headless),
		Args:     o.Config.launchArgs(),
	})
	if err != nil {
		log.Printf("❌ [%s] Failed to launch browser: %v", user.StudentID, err)
		return false
	}
	defer browser.Close()

	return runForUser(browser, targetURL, origin, user, o.Config, sessionDeps{notifier: o.Notifier})
}

// openOutputDir opens the screenshot directory with the platform opener.
func openOutputDir(template string) {
	sample := strings.ReplaceAll(template, "{studentId}", "example")
	dir := filepath.Dir(sample)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	log.Printf("📂 Opening output directory: %s", dir)
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", dir)
	case "darwin":
		cmd = exec.Command("open", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("⚠️ Failed to open output directory: %v", err)
	}
}
