package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide sugared logger. Initialized once from Init.
var Logger *zap.SugaredLogger

// Config controls log output, rotation and level.
type Config struct {
	Filename   string        // log file path; empty means console only
	MaxSize    int           // max size of a single log file, MB
	MaxBackups int           // rotated files to keep
	MaxAge     int           // days to keep rotated files
	Compress   bool          // gzip rotated files
	Level      zapcore.Level // minimum level
	Console    bool          // also write to stdout/stderr
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Filename:   "depot.log",
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
		Level:      zapcore.InfoLevel,
		Console:    true,
	}
}

// InitLogger builds the global logger from config. Errors and above go to
// stderr, everything else to stdout; a file sink receives all levels.
func InitLogger(config Config) {
	encoder := getEncoder()

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= config.Level
	})

	var cores []zapcore.Core

	if config.Filename != "" {
		fileWriter := getLogWriter(config)
		fileCore := zapcore.NewCore(encoder, fileWriter, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= config.Level
		}))
		cores = append(cores, fileCore)
		config.Console = false
	}

	if config.Console {
		stdoutCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lowPriority)
		stderrCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), highPriority)
		cores = append(cores, stdoutCore, stderrCore)
	}

	core := zapcore.NewTee(cores...)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	Logger = logger.Sugar()
}

// Init initializes the global logger with defaults plus a file and level.
func Init(filename, level string) {
	config := DefaultConfig()
	config.Filename = filename
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		panic(err)
	}
	config.Level = l
	InitLogger(config)
}

// Close flushes buffered log entries.
func Close() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getLogWriter(config Config) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   config.Filename,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	})
}
