package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

const appName = "pjdir"

// maxAuditLogsPerMinute caps audit volume so a flood of rejected
// requests cannot fill the disk.
const maxAuditLogsPerMinute = 600

type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	IP        string    `json:"ip"`
	Details   string    `json:"details"`
	Severity  string    `json:"severity"`
}

type AuditLogger struct {
	mu          sync.RWMutex
	file        *os.File
	enc         *json.Encoder
	logCount    map[string]int
	windowStart time.Time
}

var (
	instance *AuditLogger
	once     sync.Once
)

func GetAuditLogger() (*AuditLogger, error) {
	var err error
	once.Do(func() {
		instance, err = newAuditLogger()
	})
	return instance, err
}

func newAuditLogger() (*AuditLogger, error) {
	dir, err := getAuditLogDir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &AuditLogger{
		file:        file,
		enc:         json.NewEncoder(file),
		logCount:    make(map[string]int),
		windowStart: time.Now(),
	}, nil
}

func getAuditLogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", appName, "audit"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appName, "audit"), nil
	default:
		return filepath.Join(home, ".local", "share", appName, "audit"), nil
	}
}

func (al *AuditLogger) Log(event AuditEvent) {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := time.Now()

	if now.Sub(al.windowStart) > time.Minute {
		al.windowStart = now
		al.logCount = make(map[string]int)
	}

	totalLogs := 0
	for _, count := range al.logCount {
		totalLogs += count
	}

	if totalLogs >= maxAuditLogsPerMinute {
		return
	}

	al.logCount[event.EventType]++
	event.ID = uuid.New().String()
	event.Timestamp = now
	al.enc.Encode(event)
}

// LogCryptoReject records a failed decapsulation. The kind never leaves
// the audit log; clients see an undifferentiated rejection.
func (al *AuditLogger) LogCryptoReject(ip, kind string) {
	al.Log(AuditEvent{
		EventType: "crypto_reject",
		IP:        ip,
		Details:   kind,
		Severity:  "warning",
	})
}

func (al *AuditLogger) LogConnectionLimit(ip string) {
	al.Log(AuditEvent{
		EventType: "connection_limit",
		IP:        ip,
		Details:   "Connection limit exceeded",
		Severity:  "warning",
	})
}

func (al *AuditLogger) LogKeyRotation(oldID, newID uint8) {
	al.Log(AuditEvent{
		EventType: "key_rotation",
		Details:   fmt.Sprintf("key config %d rotated out for %d", oldID, newID),
		Severity:  "info",
	})
}

func (al *AuditLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.file != nil {
		return al.file.Close()
	}
	return nil
}
