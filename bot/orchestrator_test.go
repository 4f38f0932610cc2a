package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attendbot/eventbus"
)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	chatIDs  []int64
	deleted  [][2]int64
	photos   []string
	fail     bool
}

func (f *fakeNotifier) SendMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("notifier down")
	}
	f.chatIDs = append(f.chatIDs, chatID)
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) DeleteMessage(chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("notifier down")
	}
	f.deleted = append(f.deleted, [2]int64{chatID, messageID})
	return nil
}

func (f *fakeNotifier) SendPhoto(chatID int64, photoPath, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("notifier down")
	}
	f.photos = append(f.photos, photoPath)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.RunEvent
}

func (b *recordingBus) Publish(ctx context.Context, evt eventbus.RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func fakeSessions(outcome func(user Credential) bool) func(Credential, string, string, bool) bool {
	return func(user Credential, url, origin string, headless bool) bool {
		return outcome(user)
	}
}

func testConfig(users ...Credential) *RunConfig {
	return &RunConfig{URL: "https://example.edu/checkin", Users: users}
}

func TestRunProducesOneResultPerUser(t *testing.T) {
	cfg := testConfig(
		Credential{StudentID: "A1", Password: "p"},
		Credential{StudentID: "A2", Password: "p"},
		Credential{StudentID: "A3", Password: "p"},
	)
	orch := NewOrchestrator(cfg)
	orch.runSession = fakeSessions(func(user Credential) bool { return user.StudentID != "A2" })

	results, err := orch.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	seen := map[string]bool{}
	for _, res := range results {
		if seen[res.StudentID] {
			t.Fatalf("duplicate result for %s", res.StudentID)
		}
		seen[res.StudentID] = true
		if res.StudentID == "A2" && res.Success {
			t.Error("A2 should have failed")
		}
		if res.StudentID != "A2" && !res.Success {
			t.Errorf("%s should have succeeded", res.StudentID)
		}
	}
	snap := orch.Status.Snapshot()
	if snap.State != RunStateCompleted || snap.Completed != 3 || snap.Succeeded != 2 {
		t.Fatalf("unexpected status: %+v", snap)
	}
}

func TestRunSubjectFilter(t *testing.T) {
	cfg := testConfig(
		Credential{StudentID: "A1", Subjects: []string{"Math"}},
		Credential{StudentID: "A2", Subjects: []string{"Physics"}},
		Credential{StudentID: "A3", Subjects: []string{"Math", "Physics"}},
	)
	cfg.SelectedSubject = "Math"
	orch := NewOrchestrator(cfg)

	var mu sync.Mutex
	var ran []string
	orch.runSession = fakeSessions(func(user Credential) bool {
		mu.Lock()
		ran = append(ran, user.StudentID)
		mu.Unlock()
		return true
	})

	results, err := orch.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 2 || len(ran) != 2 {
		t.Fatalf("expected 2 eligible sessions, got %d results / %d ran", len(results), len(ran))
	}
	for _, sid := range ran {
		if sid == "A2" {
			t.Error("A2 is not enrolled in Math and must not run")
		}
	}
}

func TestRunAnonymousFallback(t *testing.T) {
	cfg := testConfig(Credential{StudentID: "A1", Subjects: []string{"Physics"}})
	cfg.SelectedSubject = "Math"
	orch := NewOrchestrator(cfg)
	orch.runSession = fakeSessions(func(user Credential) bool { return user.StudentID == "" })

	results, err := orch.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 1 || results[0].StudentID != "" || !results[0].Success {
		t.Fatalf("expected one anonymous connectivity-check session, got %+v", results)
	}
}

func TestRunAutoScalesParallelism(t *testing.T) {
	users := []Credential{
		{StudentID: "A1"}, {StudentID: "A2"}, {StudentID: "A3"},
		{StudentID: "A4"}, {StudentID: "A5"},
	}
	cfg := testConfig(users...)
	cfg.ParallelBrowsers = 0

	// Barrier that only releases once all five sessions are in flight at
	// the same time. With parallelism below 5 this would deadlock, so a
	// watchdog timeout fails the test instead.
	var mu sync.Mutex
	inFlight := 0
	ready := make(chan struct{})
	orch := NewOrchestrator(cfg)
	orch.runSession = fakeSessions(func(user Credential) bool {
		mu.Lock()
		inFlight++
		if inFlight == len(users) {
			close(ready)
		}
		mu.Unlock()
		<-ready
		return true
	})

	done := make(chan struct{})
	go func() {
		results, err := orch.Run()
		if err == nil && len(results) == len(users) {
			close(done)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("parallel_browsers=0 with 5 users must run all 5 sessions concurrently")
	}
}

func TestRunBoundedParallelism(t *testing.T) {
	users := []Credential{
		{StudentID: "A1"}, {StudentID: "A2"}, {StudentID: "A3"}, {StudentID: "A4"},
	}
	cfg := testConfig(users...)
	cfg.ParallelBrowsers = 2

	var mu sync.Mutex
	inFlight, peak := 0, 0
	orch := NewOrchestrator(cfg)
	orch.runSession = fakeSessions(func(user Credential) bool {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return true
	})

	if _, err := orch.Run(); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if peak > 2 {
		t.Fatalf("parallelism bound violated: peak %d", peak)
	}
}

func TestRunMissingURL(t *testing.T) {
	orch := NewOrchestrator(&RunConfig{})
	orch.runSession = fakeSessions(func(Credential) bool { return true })
	if _, err := orch.Run(); err == nil {
		t.Fatal("expected error for missing URL")
	}
}

func TestRunCompletionNotification(t *testing.T) {
	cfg := testConfig(Credential{StudentID: "A1"})
	cfg.SelectedSubject = "Math"
	cfg.Notify = NotifyConfig{
		InitiatorChatID:      100,
		StartedMessageChatID: 100,
		StartedMessageID:     55,
	}
	notifier := &fakeNotifier{}
	orch := NewOrchestrator(cfg)
	orch.Notifier = notifier
	orch.runSession = fakeSessions(func(Credential) bool { return true })

	if _, err := orch.Run(); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(notifier.deleted) != 1 || notifier.deleted[0] != [2]int64{100, 55} {
		t.Fatalf("started message not deleted: %+v", notifier.deleted)
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != "Preparation finished for 'Math' ✅" {
		t.Fatalf("unexpected completion message: %+v", notifier.messages)
	}
}

func TestRunCompletionNotificationDefaultsToAll(t *testing.T) {
	cfg := testConfig(Credential{StudentID: "A1"})
	cfg.Notify = NotifyConfig{ChatID: 7}
	notifier := &fakeNotifier{}
	orch := NewOrchestrator(cfg)
	orch.Notifier = notifier
	orch.runSession = fakeSessions(func(Credential) bool { return true })

	if _, err := orch.Run(); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != "Preparation finished for 'All' ✅" {
		t.Fatalf("unexpected completion message: %+v", notifier.messages)
	}
	if notifier.chatIDs[0] != 7 {
		t.Fatalf("notify.chat_id fallback not used: %+v", notifier.chatIDs)
	}
}

func TestRunNotifierFailureDoesNotChangeOutcome(t *testing.T) {
	cfg := testConfig(Credential{StudentID: "A1"})
	cfg.Notify = NotifyConfig{InitiatorChatID: 1}
	orch := NewOrchestrator(cfg)
	orch.Notifier = &fakeNotifier{fail: true}
	orch.runSession = fakeSessions(func(Credential) bool { return true })

	results, err := orch.Run()
	if err != nil {
		t.Fatalf("notification failure must not fail the run: %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestRunPublishesEvents(t *testing.T) {
	cfg := testConfig(Credential{StudentID: "A1"}, Credential{StudentID: "A2"})
	bus := &recordingBus{}
	orch := NewOrchestrator(cfg)
	orch.Bus = bus
	orch.runSession = fakeSessions(func(user Credential) bool { return user.StudentID == "A1" })

	if _, err := orch.Run(); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	var started, session, completed int
	for _, evt := range bus.events {
		if evt.RunID != orch.RunID || evt.EventID == "" || evt.Timestamp.IsZero() {
			t.Fatalf("incomplete event envelope: %+v", evt)
		}
		switch evt.Type {
		case eventbus.TypeRunStarted:
			started++
			if evt.Total != 2 {
				t.Errorf("unexpected run_started total: %d", evt.Total)
			}
		case eventbus.TypeSessionCompleted:
			session++
			if evt.Success == nil {
				t.Error("session_completed event missing success")
			}
		case eventbus.TypeRunCompleted:
			completed++
			if evt.Succeeded != 1 {
				t.Errorf("unexpected run_completed succeeded: %d", evt.Succeeded)
			}
		}
	}
	if started != 1 || session != 2 || completed != 1 {
		t.Fatalf("unexpected event counts: started=%d session=%d completed=%d", started, session, completed)
	}
}
