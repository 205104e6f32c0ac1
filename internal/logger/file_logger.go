package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger represents a file logger for execution activities
type Logger struct {
	name    string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARN"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelTrade    LogLevel = "TRADE"
	LogLevelRisk     LogLevel = "RISK"
)

// NewLogger creates a new file logger for the named component
func NewLogger(name string) (*Logger, error) {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", name, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Mirror to stdout so a tailing operator and the file see the same stream
	logger := log.New(io.MultiWriter(os.Stdout, file), "", 0)

	l := &Logger{
		name:    name,
		logFile: file,
		logger:  logger,
		logDir:  logDir,
	}

	l.writeSessionHeader()

	return l, nil
}

// NewDiscardLogger returns a logger that writes nowhere (used in tests)
func NewDiscardLogger() *Logger {
	return &Logger{
		name:   "discard",
		logger: log.New(io.Discard, "", 0),
	}
}

// writeSessionHeader writes a session start header to the log
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🏰 BASTION EXECUTION SESSION STARTED
================================================================================
Component: %s
Started: %s
================================================================================
`, l.name, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	logEntry := fmt.Sprintf("[%s] [%s] %s", timestamp, level, message)

	l.logger.Println(logEntry)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Critical logs a critical message that requires human attention
func (l *Logger) Critical(format string, args ...interface{}) {
	l.Log(LogLevelCritical, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Risk logs a risk gate decision
func (l *Logger) Risk(format string, args ...interface{}) {
	l.Log(LogLevelRisk, format, args...)
}

// LogJobExecution logs the outcome of a fully executed trade job
func (l *Logger) LogJobExecution(jobID, symbol, side string, totalQty int, slices int, avgPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	tradeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== JOB EXECUTED ====================
✅ Job ID: %s
📦 %s %d %s across %d slice(s)
💰 Average Price: %.2f
=========================================================`,
		timestamp, jobID, side, totalQty, symbol, slices, avgPrice)

	l.logger.Println(tradeLog)
}

// LogJobNeutralized logs an all-or-nothing unwind
func (l *Logger) LogJobNeutralized(jobID, symbol string, filledQty int, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	unwindLog := fmt.Sprintf(`
[%s] [TRADE] ==================== JOB NEUTRALIZED ====================
🔄 Job ID: %s
📦 Symbol: %s | Reversed Quantity: %d
⚠️ Reason: %s
============================================================`,
		timestamp, jobID, symbol, filledQty, reason)

	l.logger.Println(unwindLog)
}

// LogReconciliation logs a broker synchronization pass
func (l *Logger) LogReconciliation(positions int, availableMargin, totalEquity float64) {
	l.Info("Broker sync complete - Positions: %d, Margin: %.2f, Equity: %.2f", positions, availableMargin, totalEquity)
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		footer := fmt.Sprintf(`
================================================================================
🛑 BASTION EXECUTION SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, timestamp)
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}
