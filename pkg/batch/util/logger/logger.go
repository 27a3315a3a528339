package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/phuslu/log"
)

// LogLevel はログのレベルを表す型です。
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	mu       sync.RWMutex
	logLevel = LevelInfo
	format   = "console"
	output   io.Writer = os.Stderr
	backend            = newBackend(LevelInfo, "console", os.Stderr)
)

func toPhusluLevel(level LogLevel) log.Level {
	switch level {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	case LevelFatal:
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func newBackend(level LogLevel, f string, w io.Writer) *log.Logger {
	l := &log.Logger{
		Level:      toPhusluLevel(level),
		TimeFormat: "2006-01-02 15:04:05.000",
	}
	if strings.EqualFold(f, "json") {
		l.Writer = &log.IOWriter{Writer: w}
	} else {
		l.Writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    false,
			QuoteString:    true,
			EndWithMessage: true,
		}
	}
	return l
}

func rebuild() {
	backend = newBackend(logLevel, format, output)
}

// SetLogLevel はログレベルを設定します。
func SetLogLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = LevelDebug
	case "INFO":
		logLevel = LevelInfo
	case "WARN":
		logLevel = LevelWarn
	case "ERROR":
		logLevel = LevelError
	case "FATAL":
		logLevel = LevelFatal
	default:
		fmt.Fprintf(output, "警告: 不明なログレベル '%s' が指定されました。INFO レベルで続行します。\n", level)
		logLevel = LevelInfo
	}
	rebuild()
}

// SetFormat は出力形式 ("console" または "json") を設定します。
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	format = f
	rebuild()
}

// SetOutput はログの出力先を差し替えます。テストで使用します。
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

func current() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Debugf は DEBUG レベルのログを出力します。
func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

// Infof は INFO レベルのログを出力します。
func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Warnf は WARN レベルのログを出力します。
func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}

// Errorf は ERROR レベルのログを出力します。
func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}

// Fatalf は FATAL レベルのログを出力し、プログラムを終了します。
func Fatalf(format string, v ...interface{}) {
	current().Fatal().Msgf(format, v...)
}

// WithExecution は実行IDを構造化フィールドとして付与した INFO ログを出力します。
func WithExecution(executionID int64, runID string, format string, v ...interface{}) {
	current().Info().Int64("execution_id", executionID).Str("run_id", runID).Msgf(format, v...)
}
