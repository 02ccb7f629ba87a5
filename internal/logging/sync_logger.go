// Package logging writes one timestamped log file per sync invocation so
// support can reconstruct what a run did long after the structured logs
// rotated away.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logDir = "sync_logs"

// SyncLogger manages logging for a single sync invocation. All methods are
// nil-safe so callers can thread an optional logger without guards.
type SyncLogger struct {
	runID     string
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

// StartSyncLogging creates the log file for a new sync run.
func StartSyncLogging(runID string) (*SyncLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(logDir, fmt.Sprintf("sync_%s_%s.log", runID, timestamp))
	logFile, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &SyncLogger{
		runID:     runID,
		logFile:   logFile,
		startTime: time.Now(),
	}
	logger.writeHeader()
	return logger, nil
}

// Log writes a formatted message with elapsed-time prefix.
func (l *SyncLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	elapsed := time.Since(l.startTime).Round(time.Millisecond)
	fmt.Fprintf(l.logFile, "[%s] [+%v] %s\n", timestamp, elapsed, fmt.Sprintf(format, args...))
	l.logFile.Sync()
}

// LogSection writes a section header.
func (l *SyncLogger) LogSection(title string) {
	if l == nil {
		return
	}
	separator := strings.Repeat("=", 72)
	l.Log("%s", separator)
	l.Log("= %s", title)
	l.Log("%s", separator)
}

// LogError writes an error with its context label.
func (l *SyncLogger) LogError(context string, err error) {
	if l == nil {
		return
	}
	l.Log("ERROR in %s: %v", context, err)
}

// Close finalizes the log file.
func (l *SyncLogger) Close() {
	if l == nil {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.logFile != nil {
		fmt.Fprintf(l.logFile, "Sync run completed. Total duration: %v\n", time.Since(l.startTime).Round(time.Millisecond))
		l.logFile.Close()
		l.logFile = nil
	}
}

func (l *SyncLogger) writeHeader() {
	fmt.Fprintf(l.logFile, "REPLYDESK SYNC LOG\nRun ID: %s\nStart Time: %s\n\n",
		l.runID, l.startTime.Format("2006-01-02 15:04:05"))
	l.logFile.Sync()
}
