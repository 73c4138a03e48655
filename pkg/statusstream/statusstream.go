package statusstream

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is the severity of a streamed log line.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// ANSI color sequences used in task logs. Lines are colored on write so
// both the on-disk file and the live stream render the same in a terminal.
const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
)

func colorFor(level Level) string {
	switch level {
	case LevelSuccess:
		return colorGreen
	case LevelWarn:
		return colorYellow
	case LevelError:
		return colorRed
	default:
		return colorCyan
	}
}

// Colorize wraps s in the ANSI sequence for level.
func Colorize(s string, level Level) string {
	return colorFor(level) + s + colorReset
}

// Record is one appended task log line.
type Record struct {
	TaskID    string
	Level     Level
	Line      string // colored, without trailing newline
	Timestamp time.Time
}

// Stream appends colored log lines to per-task files and fans them out to
// live subscribers through the broker. Each line is written with a single
// write call so concurrent writers never interleave within a line.
type Stream struct {
	dir    string
	broker *Broker

	mu    sync.Mutex
	files map[string]*os.File
}

// New creates a stream writing task logs under dataDir/tasks. The broker
// may be nil when live push is not needed.
func New(dataDir string, broker *Broker) (*Stream, error) {
	dir := filepath.Join(dataDir, "tasks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create task log dir: %w", err)
	}
	return &Stream{
		dir:    dir,
		broker: broker,
		files:  make(map[string]*os.File),
	}, nil
}

// LogPath returns the on-disk log file for a task.
func (s *Stream) LogPath(taskID string) string {
	return filepath.Join(s.dir, taskID+".log")
}

// Info appends a cyan informational line.
func (s *Stream) Info(taskID, format string, args ...any) {
	s.write(taskID, LevelInfo, fmt.Sprintf(format, args...))
}

// Success appends a green line.
func (s *Stream) Success(taskID, format string, args ...any) {
	s.write(taskID, LevelSuccess, fmt.Sprintf(format, args...))
}

// Warn appends a yellow line.
func (s *Stream) Warn(taskID, format string, args ...any) {
	s.write(taskID, LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends a red line.
func (s *Stream) Error(taskID, format string, args ...any) {
	s.write(taskID, LevelError, fmt.Sprintf(format, args...))
}

// Raw appends pre-formatted agent output without recoloring it.
func (s *Stream) Raw(taskID, line string) {
	s.append(taskID, &Record{
		TaskID:    taskID,
		Level:     LevelInfo,
		Line:      line,
		Timestamp: time.Now(),
	})
}

func (s *Stream) write(taskID string, level Level, msg string) {
	s.append(taskID, &Record{
		TaskID:    taskID,
		Level:     level,
		Line:      Colorize(msg, level),
		Timestamp: time.Now(),
	})
}

func (s *Stream) append(taskID string, rec *Record) {
	s.mu.Lock()
	f, ok := s.files[taskID]
	if !ok {
		var err error
		f, err = os.OpenFile(s.LogPath(taskID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			s.mu.Unlock()
			return
		}
		s.files[taskID] = f
	}
	// Terminal-style line ending, one write per line.
	f.Write([]byte(rec.Line + "\r\n"))
	s.mu.Unlock()

	if s.broker != nil {
		s.broker.Publish(rec)
	}
}

// Replay returns everything appended to a task's log so far, for catching
// up a subscriber that attached mid-task.
func (s *Stream) Replay(taskID string) ([]byte, error) {
	data, err := os.ReadFile(s.LogPath(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// CloseTask releases the file handle for a finished task.
func (s *Stream) CloseTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[taskID]; ok {
		f.Close()
		delete(s.files, taskID)
	}
}

// Close releases all open task log files.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.files {
		f.Close()
		delete(s.files, id)
	}
}
