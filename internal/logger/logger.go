// Package logger keeps a bounded, thread-safe feed of user-visible
// marketplace activity (listings, sales, rejected transactions) that the web
// layer streams to clients. Process logs go through go-log instead.
package logger

import (
	"fmt"
	"sync"
	"time"
)

// Message represents a single activity entry
type Message struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, warning, error
	Content   string    `json:"content"`
}

// Logger manages in-memory activity messages
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
	seq      uint64
}

// New creates a new logger with specified max message count
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
	}
}

// Log adds a new message to the logger
func (l *Logger) Log(level, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	l.messages = append(l.messages, Message{
		Seq:       l.seq,
		Timestamp: time.Now(),
		Level:     level,
		Content:   content,
	})

	// Keep only the last maxSize messages
	if len(l.messages) > l.maxSize {
		l.messages = l.messages[len(l.messages)-l.maxSize:]
	}
}

// Info logs an info-level message
func (l *Logger) Info(content string) {
	l.Log("info", content)
}

// Infof formats and logs an info-level message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Log("info", fmt.Sprintf(format, args...))
}

// Warning logs a warning-level message
func (l *Logger) Warning(content string) {
	l.Log("warning", content)
}

// Warningf formats and logs a warning-level message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Log("warning", fmt.Sprintf(format, args...))
}

// Error logs an error-level message
func (l *Logger) Error(content string) {
	l.Log("error", content)
}

// Errorf formats and logs an error-level message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Log("error", fmt.Sprintf(format, args...))
}

// GetRecent returns the most recent n messages (newest first)
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) {
		n = len(l.messages)
	}

	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}

	return result
}

// Since returns the messages logged after seq, oldest first. Messages already
// evicted from the buffer are skipped.
func (l *Logger) Since(seq uint64) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Message
	for _, m := range l.messages {
		if m.Seq > seq {
			result = append(result, m)
		}
	}
	return result
}

// LastSeq returns the sequence number of the newest message, or 0.
func (l *Logger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
