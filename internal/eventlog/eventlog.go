// Package eventlog writes the on-disk log streams, one directory per
// calendar day: a clean per-device event log, a raw per-device log of
// terminal payloads, and a copy of the system log.
//
//	<event_dir>/<YYYY-MM-DD>/<device>.events.log
//	<event_dir>/<YYYY-MM-DD>/system.log
//	<raw_dir>/<YYYY-MM-DD>/<device>.raw.log
//
// The stream suffix keeps device files apart from system.log and from each
// other when both roots are the same directory.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/gatesync/internal/snapshot"
)

// DateLayout names the daily directories.
const DateLayout = "2006-01-02"

const (
	systemName   = "system"
	eventsSuffix = ".events"
	rawSuffix    = ".raw"
)

// Logs owns every open daily log file.
type Logs struct {
	eventDir string
	rawDir   string
	now      func() time.Time

	mu      sync.Mutex
	files   map[string]*dailyFile
	devices map[string]*zap.Logger
}

// New creates the stream set. now defaults to time.Now.
func New(eventDir, rawDir string, now func() time.Time) *Logs {
	if now == nil {
		now = time.Now
	}
	return &Logs{
		eventDir: eventDir,
		rawDir:   rawDir,
		now:      now,
		files:    make(map[string]*dailyFile),
		devices:  make(map[string]*zap.Logger),
	}
}

// Dirs returns the stream roots that hold dated directories.
func (l *Logs) Dirs() []string {
	if l.rawDir == l.eventDir {
		return []string{l.eventDir}
	}
	return []string{l.eventDir, l.rawDir}
}

// SystemCore returns a core that copies system log entries at or above
// level into the daily system.log.
func (l *Logs) SystemCore(level zapcore.LevelEnabler) zapcore.Core {
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	return zapcore.NewCore(enc, l.file(l.eventDir, systemName), level)
}

// Device returns the clean event logger for one device.
func (l *Logs) Device(device string) *zap.Logger {
	name := snapshot.SanitizeName(device)
	l.mu.Lock()
	defer l.mu.Unlock()
	if lg, ok := l.devices[name]; ok {
		return lg
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()),
		l.fileLocked(l.eventDir, name+eventsSuffix), zapcore.DebugLevel)
	lg := zap.New(core).With(zap.String("device", device))
	l.devices[name] = lg
	return lg
}

// Raw appends one terminal payload, as JSON, to the device's raw log.
func (l *Logs) Raw(device string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode raw event: %w", err)
	}
	line := l.now().Format(time.RFC3339) + " " + string(data) + "\n"
	_, err = l.file(l.rawDir, snapshot.SanitizeName(device)+rawSuffix).Write([]byte(line))
	return err
}

// Close closes every open file.
func (l *Logs) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, f := range l.files {
		errs = append(errs, f.close())
	}
	return errors.Join(errs...)
}

func (l *Logs) file(root, name string) *dailyFile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileLocked(root, name)
}

func (l *Logs) fileLocked(root, name string) *dailyFile {
	key := filepath.Join(root, name)
	f, ok := l.files[key]
	if !ok {
		f = &dailyFile{root: root, name: name + ".log", now: l.now}
		l.files[key] = f
	}
	return f
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = ""
	return cfg
}

// dailyFile is a WriteSyncer that reopens under a new date directory when
// the day changes.
type dailyFile struct {
	root string
	name string
	now  func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

func (f *dailyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	day := f.now().Format(DateLayout)
	if f.file == nil || day != f.day {
		if f.file != nil {
			f.file.Close()
			f.file = nil
		}
		dir := filepath.Join(f.root, day)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(dir, f.name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open log file: %w", err)
		}
		f.file, f.day = file, day
	}
	return f.file.Write(p)
}

func (f *dailyFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

func (f *dailyFile) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
