// Check-in Runner Service
//
// HTTP surface the GUI / chat-bot front-ends call to start attendance runs
// and poll their progress. Each run executes the orchestrator in the
// background under a uuid run id.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"attendbot/bot"
	"attendbot/eventbus"
	"attendbot/telegram"
)

// Run status constants
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRequest represents an incoming run request. Either an inline config
// or a config file path; url and subject override whatever the config says.
type RunRequest struct {
	Config     *bot.RunConfig `json:"config,omitempty"`
	ConfigPath string         `json:"config_path,omitempty"`
	URL        string         `json:"url,omitempty"`
	Subject    string         `json:"subject,omitempty"`
}

// RunRecord represents one run in the store.
type RunRecord struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	Subject     string              `json:"subject,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Progress    *bot.StatusSnapshot `json:"progress,omitempty"`
	Results     []bot.SessionResult `json:"results,omitempty"`
	Error       string              `json:"error,omitempty"`

	status *bot.RunStatus
}

// RunStore manages run records in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*RunRecord)}
}

func (s *RunStore) Create(subject string, status *bot.RunStatus) *RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := &RunRecord{
		ID:        uuid.New().String(),
		Status:    RunStatusPending,
		Subject:   subject,
		CreatedAt: time.Now(),
		status:    status,
	}
	s.runs[record.ID] = record
	return record
}

// Get returns a copy of the record with a live progress snapshot.
func (s *RunStore) Get(id string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	copied := *record
	if record.status != nil {
		snap := record.status.Snapshot()
		copied.Progress = &snap
	}
	return &copied, true
}

func (s *RunStore) UpdateStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.runs[id]
	if !ok {
		return
	}
	record.Status = status
	now := time.Now()
	switch status {
	case RunStatusRunning:
		record.StartedAt = &now
	case RunStatusCompleted, RunStatusFailed:
		record.CompletedAt = &now
	}
}

func (s *RunStore) Complete(id string, results []bot.SessionResult, runErr error) {
	s.mu.Lock()
	record, ok := s.runs[id]
	if ok {
		now := time.Now()
		record.CompletedAt = &now
		if runErr != nil {
			record.Status = RunStatusFailed
			record.Error = runErr.Error()
		} else {
			record.Status = RunStatusCompleted
			record.Results = results
		}
	}
	s.mu.Unlock()
}

func (s *RunStore) CleanupOld(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for id, record := range s.runs {
		if record.CompletedAt != nil && record.CompletedAt.Before(cutoff) {
			delete(s.runs, id)
		}
	}
}

// RunnerService handles run orchestration behind the HTTP surface.
type RunnerService struct {
	store             *RunStore
	defaultConfigPath string
	notifier          bot.Notifier
	bus               bot.EventPublisher
	rdb               *redis.Client
}

func NewRunnerService(defaultConfigPath string) *RunnerService {
	return &RunnerService{
		store:             NewRunStore(),
		defaultConfigPath: defaultConfigPath,
	}
}

func (s *RunnerService) Start() {
	go s.cleanupWorker()
}

func (s *RunnerService) cleanupWorker() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.store.CleanupOld(30 * time.Minute)
	}
}

func (s *RunnerService) resolveConfig(req RunRequest) (*bot.RunConfig, error) {
	cfg := req.Config
	if cfg == nil {
		path := req.ConfigPath
		if path == "" {
			path = s.defaultConfigPath
		}
		loaded, err := bot.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if req.URL != "" {
		cfg.URL = req.URL
	}
	if req.Subject != "" {
		cfg.SelectedSubject = req.Subject
	}
	return cfg, nil
}

func (s *RunnerService) execute(record *RunRecord, orch *bot.Orchestrator) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Run %s PANIC: %v", record.ID, r)
			s.store.Complete(record.ID, nil, fmt.Errorf("panic: %v", r))
		}
	}()

	log.Printf("🔧 Run %s starting", record.ID)
	s.store.UpdateStatus(record.ID, RunStatusRunning)
	results, err := orch.Run()
	if err != nil {
		log.Printf("❌ Run %s failed: %v", record.ID, err)
	} else {
		log.Printf("✅ Run %s completed (%d sessions)", record.ID, len(results))
	}
	s.store.Complete(record.ID, results, err)
}

// HTTP Handlers

func (s *RunnerService) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := s.resolveConfig(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cfg.URL == "" {
		http.Error(w, "Missing url", http.StatusBadRequest)
		return
	}

	orch := bot.NewOrchestrator(cfg)
	orch.Notifier = s.notifier
	orch.Bus = s.bus
	if s.rdb != nil {
		orch.Status.MirrorToRedis(s.rdb, "attendbot:run:"+orch.RunID)
	}

	record := s.store.Create(strings.TrimSpace(cfg.SelectedSubject), orch.Status)
	// Snapshot the response fields before execute starts mutating the
	// record under the store lock.
	runID, runStatus, createdAt := record.ID, record.Status, record.CreatedAt
	go s.execute(record, orch)

	log.Printf("📥 Created run %s for %s", runID, cfg.URL)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":     runID,
		"status":     runStatus,
		"created_at": createdAt,
	})
}

func (s *RunnerService) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "Missing run_id parameter", http.StatusBadRequest)
		return
	}
	record, ok := s.store.Get(runID)
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

func (s *RunnerService) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"service": "checkin-runner",
		"time":    time.Now().Format(time.RFC3339),
	})
}

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.json"
	}

	service := NewRunnerService(configPath)

	if client := telegram.NewClient(os.Getenv("TELEGRAM_TOKEN")); client != nil {
		service.notifier = client
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		bus, err := eventbus.NewNATSBus(eventbus.NATSConfig{URL: natsURL})
		if err != nil {
			log.Printf("⚠️ NATS unavailable, run events disabled: %v", err)
		} else {
			defer bus.Close()
			service.bus = bus
		}
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Printf("⚠️ Invalid REDIS_URL, status mirror disabled: %v", err)
		} else {
			service.rdb = redis.NewClient(opts)
			defer service.rdb.Close()
		}
	}

	service.Start()

	router := mux.NewRouter()
	router.HandleFunc("/health", service.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/run/start", service.handleStartRun).Methods(http.MethodPost)
	router.HandleFunc("/run/status", service.handleGetRun).Methods(http.MethodGet)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	log.Printf("🚀 Check-in Runner Service starting on %s", port)
	if err := http.ListenAndServe(port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
