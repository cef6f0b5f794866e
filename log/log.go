package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDirectory = "logs"
	logFileName  = "simulation.log"
)

func init() {
	color.NoColor = false
}

// LoggerI defines the interface for various logging levels and formatted output.
// Replicas and the Driver take a LoggerI at construction rather than reaching for
// the log package directly; the Network and the pacemakers do not log.
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8

	reset = iota
	red
	green
	yellow
	blue
	gray
)

var _ LoggerI = &Logger{}

// Config holds configuration settings for the logger, including logging level and output writer.
type Config struct {
	Level int32 `json:"level"`
	Out   io.Writer
}

// Logger is the concrete implementation of LoggerI.
type Logger struct {
	config Config
}

func (l *Logger) Debug(msg string) {
	if l.config.Level <= DebugLevel {
		l.write(colorString(blue, "DEBUG: "+msg))
	}
}

func (l *Logger) Info(msg string) {
	if l.config.Level <= InfoLevel {
		l.write(colorString(green, "INFO: "+msg))
	}
}

func (l *Logger) Warn(msg string) {
	if l.config.Level <= WarnLevel {
		l.write(colorString(yellow, "WARN: "+msg))
	}
}

func (l *Logger) Error(msg string) {
	if l.config.Level <= ErrorLevel {
		l.write(colorString(red, "ERROR: "+msg))
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.config.Level <= DebugLevel {
		l.write(colorStringf(blue, "DEBUG: "+format, args...))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.config.Level <= InfoLevel {
		l.write(colorStringf(green, "INFO: "+format, args...))
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.config.Level <= WarnLevel {
		l.write(colorStringf(yellow, "WARN: "+format, args...))
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.config.Level <= ErrorLevel {
		l.write(colorStringf(red, "ERROR: "+format, args...))
	}
}

// write() outputs the log message with a timestamp to the configured writer.
// The simulated clock, not wall time, drives the protocol; this timestamp is
// wall time for operator convenience only and never feeds simulation logic.
func (l *Logger) write(msg string) {
	timeColored := colorString(gray, time.Now().Format(time.StampMilli))
	if _, err := l.config.Out.Write([]byte(fmt.Sprintf("%s %s\n", timeColored, msg))); err != nil {
		fmt.Println("log write error:", err)
	}
}

// New() creates a new Logger. If config.Out is set, output goes only there and
// dataDir is ignored. Otherwise output goes to stdout, and also to an
// auto-rotating file under dataDir/logs when dataDir is non-empty.
func New(config Config, dataDir ...string) LoggerI {
	if config.Out == nil {
		config.Out = os.Stdout
		if len(dataDir) > 0 && dataDir[0] != "" {
			logPath := filepath.Join(dataDir[0], logDirectory, logFileName)
			if err := os.MkdirAll(filepath.Join(dataDir[0], logDirectory), os.ModePerm); err != nil {
				panic(err)
			}
			logFile := &lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    1, // megabyte
				MaxBackups: 20,
				MaxAge:     14, // days
				Compress:   true,
			}
			config.Out = io.MultiWriter(os.Stdout, logFile)
		}
	}
	return &Logger{config: config}
}

// NewDefault() returns a Logger at DebugLevel writing to stdout only, the
// configuration used by the example binary and by tests that want to see
// trace output on failure.
func NewDefault() LoggerI {
	return New(Config{Level: DebugLevel, Out: os.Stdout})
}

// NewNull() returns a Logger that discards all output, used by tests that
// exercise the protocol at volume and don't want log noise.
func NewNull() LoggerI {
	return New(Config{Level: DebugLevel, Out: io.Discard})
}

func colorStringf(c int, format string, args ...interface{}) string {
	return colorString(c, fmt.Sprintf(format, args...))
}

func colorString(c int, msg string) (res string) {
	parts := strings.Split(msg, "\n")
	for i, part := range parts {
		res += cString(c, part)
		if i != len(parts)-1 {
			res += "\n"
		}
	}
	return
}

func cString(c int, msg string) string {
	switch c {
	case blue:
		return color.BlueString(msg)
	case red:
		return color.RedString(msg)
	case yellow:
		return color.YellowString(msg)
	case green:
		return color.GreenString(msg)
	case gray:
		return color.HiBlackString(msg)
	default:
		return color.WhiteString(msg)
	}
}
