package logger

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"crowdcounter/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to rotated files and stdout/stderr.
type Logger struct {
	infoLog    *logrus.Logger
	warningLog *logrus.Logger
	errorLog   *logrus.Logger
	files      []io.Closer
	logDir     string
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	logger := &Logger{
		logDir: config.LogDirectory,
	}

	logger.setupLoggers()
	return logger
}

// NewDiscard returns a Logger that writes nowhere. Used by tests and the CLI.
func NewDiscard() *Logger {
	l := &Logger{}
	l.infoLog = newLevelLogger(io.Discard, logrus.InfoLevel)
	l.warningLog = newLevelLogger(io.Discard, logrus.WarnLevel)
	l.errorLog = newLevelLogger(io.Discard, logrus.ErrorLevel)
	return l
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers() {
	infoFile := l.openLogFile(InfoFile)
	warningFile := l.openLogFile(WarningFile)
	errorFile := l.openLogFile(ErrorFile)

	l.infoLog = newLevelLogger(io.MultiWriter(os.Stdout, infoFile), logrus.InfoLevel)
	l.warningLog = newLevelLogger(io.MultiWriter(os.Stdout, warningFile), logrus.WarnLevel)
	l.errorLog = newLevelLogger(io.MultiWriter(os.Stderr, errorFile), logrus.ErrorLevel)
}

func newLevelLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(out)
	lg.SetLevel(level)
	lg.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	return lg
}

// openLogFile returns a size-rotated appender for filename inside the log directory.
func (l *Logger) openLogFile(filename string) *lumberjack.Logger {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, filename),
		MaxSize:    50, // MB
		MaxBackups: 3,
		Compress:   true,
	}
	l.files = append(l.files, file)
	return file
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Errorf(format, v...)
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) {
	if l.logDir == "" {
		return
	}
	filePath := filepath.Join(l.logDir, fileName)
	if err := os.Truncate(filePath, 0); err != nil {
		l.Error("Error truncating log file %s: %v", fileName, err)
		return
	}

	l.Info("File %s has been cleared.", fileName)
}

// Close flushes and closes every rotated log file, even when one fails.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errList []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
