package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of report lifecycle event.
type AuditEventType string

const (
	AuditReportQueued    AuditEventType = "report_queued"
	AuditReportSubmitted AuditEventType = "report_submitted"
	AuditRetryFailed     AuditEventType = "retry_failed"
	AuditPrefsSaved      AuditEventType = "prefs_saved"
	AuditBadgesReset     AuditEventType = "badges_reset"
	AuditSyncPass        AuditEventType = "sync_pass"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp    int64          `json:"ts"` // Unix milliseconds
	EventType    AuditEventType `json:"event"`
	Category     string         `json:"cat,omitempty"`
	ReportID     string         `json:"report,omitempty"`
	Confirmation string         `json:"confirmation,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger = &AuditLogger{}
)

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	category Category
}

// InitAudit opens (or creates) the audit trail at path. An empty path leaves
// auditing off.
func InitAudit(path string) error {
	if path == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	return auditLogger
}

// AuditWithCategory returns an audit logger that stamps events with category.
func AuditWithCategory(category Category) *AuditLogger {
	return &AuditLogger{category: category}
}

// Log writes an audit event. It is a no-op until InitAudit succeeds.
func (a *AuditLogger) Log(event AuditEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================

// ReportQueued records a report that was kept locally.
func (a *AuditLogger) ReportQueued(reportID, localNumber, lastError string) {
	a.Log(AuditEvent{EventType: AuditReportQueued, ReportID: reportID, Confirmation: localNumber, Error: lastError})
}

// ReportSubmitted records a report the authority accepted.
func (a *AuditLogger) ReportSubmitted(reportID, confirmation string) {
	a.Log(AuditEvent{EventType: AuditReportSubmitted, ReportID: reportID, Confirmation: confirmation, Success: true})
}

// RetryFailed records a failed retry of a pending report.
func (a *AuditLogger) RetryFailed(reportID string, retryCount int, err error) {
	ev := AuditEvent{
		EventType: AuditRetryFailed,
		ReportID:  reportID,
		Fields:    map[string]any{"retry_count": retryCount},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// PrefsSaved records an autosave of the angler's preferences.
func (a *AuditLogger) PrefsSaved(reportID string, err error) {
	ev := AuditEvent{EventType: AuditPrefsSaved, ReportID: reportID, Success: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// BadgesReset records a badge cache reset.
func (a *AuditLogger) BadgesReset() {
	a.Log(AuditEvent{EventType: AuditBadgesReset, Success: true})
}

// SyncPass records the outcome of one background sync pass.
func (a *AuditLogger) SyncPass(attempted, submitted, failed int, duration time.Duration) {
	a.Log(AuditEvent{
		EventType: AuditSyncPass,
		Success:   failed == 0,
		Fields: map[string]any{
			"attempted": attempted,
			"submitted": submitted,
			"failed":    failed,
			"dur_ms":    duration.Milliseconds(),
		},
	})
}
