package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rameshiyer27/bastion/internal/logger"
	"github.com/rameshiyer27/bastion/internal/risk"
)

// SystemState is the recoverable snapshot written to disk. It exists
// for post-mortems and warm restarts only; on startup the broker's
// view always overrides whatever was loaded.
type SystemState struct {
	Version      string    `json:"version"`
	LastUpdated  time.Time `json:"last_updated"`
	SessionStart time.Time `json:"session_start"`

	Portfolio risk.PortfolioState `json:"portfolio"`
	Exposure  risk.ExposureSummary `json:"exposure"`

	// DeadLetterJobIDs records jobs that ended in a non-recoverable
	// state so operators can cross-reference the audit journal
	DeadLetterJobIDs []string `json:"dead_letter_job_ids,omitempty"`
}

// StatePersistence manages saving and loading of execution core state
type StatePersistence struct {
	logger   *logger.Logger
	stateDir string

	currentState *SystemState
	stateMutex   sync.RWMutex

	autoSave     bool
	saveInterval time.Duration
	lastSave     time.Time
}

// NewStatePersistence creates a new state persistence manager
func NewStatePersistence(logger *logger.Logger, stateDir string) *StatePersistence {
	return &StatePersistence{
		logger:       logger,
		stateDir:     stateDir,
		currentState: NewSystemState(),
		autoSave:     true,
		saveInterval: 5 * time.Minute,
		lastSave:     time.Now(),
	}
}

// NewSystemState creates a new empty system state
func NewSystemState() *SystemState {
	return &SystemState{
		Version:      "1.0.0",
		LastUpdated:  time.Now(),
		SessionStart: time.Now(),
	}
}

// Initialize sets up the state directory
func (sp *StatePersistence) Initialize() error {
	if err := os.MkdirAll(sp.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	sp.logger.Info("State persistence initialized: %s", sp.stateDir)
	return nil
}

// LoadState loads the system state from disk. A missing or stale file
// is not an error; the core starts clean and reconciles.
func (sp *StatePersistence) LoadState() error {
	sp.stateMutex.Lock()
	defer sp.stateMutex.Unlock()

	stateFile := filepath.Join(sp.stateDir, "bastion_state.json")

	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		sp.logger.Info("No existing state file found, starting with clean state")
		return nil
	}

	data, err := os.ReadFile(stateFile)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state SystemState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	if err := validateState(&state); err != nil {
		sp.logger.Warning("Loaded state has issues: %v, using clean state", err)
		return nil
	}

	sp.currentState = &state
	sp.logger.Info("State loaded successfully from %s", stateFile)

	return nil
}

// SaveState saves the current system state to disk atomically
func (sp *StatePersistence) SaveState() error {
	sp.stateMutex.RLock()
	state := *sp.currentState
	sp.stateMutex.RUnlock()

	state.LastUpdated = time.Now()

	stateFile := filepath.Join(sp.stateDir, "bastion_state.json")
	backupFile := filepath.Join(sp.stateDir, "bastion_state_backup.json")

	// Keep the previous snapshot as a backup
	if _, err := os.Stat(stateFile); err == nil {
		if err := copyFile(stateFile, backupFile); err != nil {
			sp.logger.Warning("Failed to create state backup: %v", err)
		}
	}

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temporary file first, then atomic move
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}

	sp.stateMutex.Lock()
	sp.lastSave = time.Now()
	sp.stateMutex.Unlock()

	return nil
}

// UpdatePortfolio records the latest reconciled portfolio and exposure
// view, auto-saving on the configured interval
func (sp *StatePersistence) UpdatePortfolio(portfolio risk.PortfolioState, exposure risk.ExposureSummary) {
	sp.stateMutex.Lock()
	sp.currentState.Portfolio = portfolio
	sp.currentState.Exposure = exposure
	due := sp.autoSave && time.Since(sp.lastSave) > sp.saveInterval
	sp.stateMutex.Unlock()

	if due {
		go func() {
			if err := sp.SaveState(); err != nil {
				sp.logger.Error("Auto save failed: %v", err)
			}
		}()
	}
}

// RecordDeadLetter appends a failed job ID to the snapshot
func (sp *StatePersistence) RecordDeadLetter(jobID string) {
	sp.stateMutex.Lock()
	defer sp.stateMutex.Unlock()
	sp.currentState.DeadLetterJobIDs = append(sp.currentState.DeadLetterJobIDs, jobID)
}

// GetSystemState returns a copy of the current system state
func (sp *StatePersistence) GetSystemState() SystemState {
	sp.stateMutex.RLock()
	defer sp.stateMutex.RUnlock()
	return *sp.currentState
}

// Cleanup performs a final save
func (sp *StatePersistence) Cleanup() error {
	return sp.SaveState()
}

func validateState(state *SystemState) error {
	if state.Version == "" {
		return fmt.Errorf("state version is empty")
	}
	if time.Since(state.LastUpdated) > 7*24*time.Hour {
		return fmt.Errorf("state is too old: %v", state.LastUpdated)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
