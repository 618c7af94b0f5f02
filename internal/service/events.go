package service

import (
	"slices"
	"sync"
	"time"

	"natsvisor/internal/models"
)

// EventLog is a bounded in-memory record of supervisor events.
type EventLog struct {
	mu         sync.RWMutex
	entries    []models.LogEntry
	maxEntries int
}

func NewEventLog(maxEntries int) *EventLog {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &EventLog{
		entries:    make([]models.LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

func (l *EventLog) Add(level, message, runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, models.LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		RunID:     runID,
	})
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
}

// GetLast returns up to n of the most recent entries, oldest first.
func (l *EventLog) GetLast(n int) []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.entries) == 0 {
		return []models.LogEntry{}
	}

	start := 0
	if len(l.entries) > n {
		start = len(l.entries) - n
	}

	result := make([]models.LogEntry, len(l.entries[start:]))
	copy(result, l.entries[start:])
	return result
}

// GetByLevel returns up to n of the most recent entries at level, oldest
// first. n <= 0 means all of them.
func (l *EventLog) GetByLevel(level string, n int) []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := []models.LogEntry{}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if n > 0 && len(matched) == n {
			break
		}
		if l.entries[i].Level == level {
			matched = append(matched, l.entries[i])
		}
	}
	slices.Reverse(matched)
	return matched
}
