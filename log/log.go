package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagFileName       = "diagnostics_log.txt"
	submissionFileName = "submissions_log.txt"
)

var (
	diagLog        zerolog.Logger
	diagFile       *lumberjack.Logger
	submissionFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// SubmissionMetrics describes one finished submission attempt.
type SubmissionMetrics struct {
	Sink       string
	Mode       string
	MediaS     float64
	SizeKB     float64
	Attempts   int
	DNSMs      float64
	TLSMs      float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: STORYBOOTH_LOG_PATH environment variable
	if envPath := os.Getenv("STORYBOOTH_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	submissionFile, err = os.OpenFile(filepath.Join(dir, submissionFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	diagFile = &lumberjack.Logger{
		Filename:   filepath.Join(dir, diagFileName),
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     30,
	}
	// lumberjack opens lazily; touch the file so a bad directory fails here.
	if _, err := diagFile.Write(nil); err != nil {
		submissionFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if submissionFile != nil {
		submissionFile.Close()
		submissionFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Transition(session, from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", session).
		Str("from", from).
		Str("to", to).
		Msg("transition")
}

func Submission(m SubmissionMetrics) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	diagLog.Info().
		Str("sink", m.Sink).
		Str("mode", m.Mode).
		Str("conn", connStatus).
		Int("attempts", m.Attempts).
		Float64("media_s", m.MediaS).
		Float64("size_kb", m.SizeKB).
		Float64("dns_ms", m.DNSMs).
		Float64("tls_ms", m.TLSMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("submission")
}

// Receipt appends one line per stored story to submissions_log.txt.
func Receipt(session, receiptID, url string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, session, receiptID, url)
	submissionFile.WriteString(line)
}

func SessionStart(promptID, sink string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("prompt", promptID).
		Str("sink", sink).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}
