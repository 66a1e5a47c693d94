/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MichaelBrunn3r/cdpy-sub000/pkg/osutil"
)

const (
	CDP_LOG_LEVEL              = "CDP_LOG_LEVEL"              // Minimum level for console (stderr) logs (defaults to info)
	CDP_DIAGNOSTICS_LOG_FOLDER = "CDP_DIAGNOSTICS_LOG_FOLDER" // Folder to write diagnostics logs to (defaults to a temp folder)
	CDP_DIAGNOSTICS_LOG_LEVEL  = "CDP_DIAGNOSTICS_LOG_LEVEL"  // Log level to include in diagnostics logs (defaults to none)

	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
)

var (
	defaultLogPath = filepath.Join(os.TempDir(), "cdpy", "logs")
)

type Logger struct {
	logr.Logger
	name        string
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New creates a logger writing human-readable entries to stderr and,
// if CDP_DIAGNOSTICS_LOG_LEVEL is set, machine-readable entries to a diagnostics log file.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	consoleLevel := zapcore.InfoLevel
	var consoleLevelErr error
	if levelStr, found := os.LookupEnv(CDP_LOG_LEVEL); found {
		consoleLevel, consoleLevelErr = StringToLevel(levelStr, zapcore.InfoLevel)
	}
	consoleAtomicLevel := zap.NewAtomicLevelAt(consoleLevel)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), consoleAtomicLevel),
	}

	var diagnosticsLogErr error
	if logCore, err := getDiagnosticsLogCore(name, encoderConfig); err != nil {
		// Ignore the error if diagnostics log isn't enabled
		if !errors.Is(err, errDiagnosticsLogNotEnabled) {
			diagnosticsLogErr = err
		}
	} else {
		cores = append(cores, logCore)
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))
	log := zapr.NewLogger(zapLogger).WithName(name)

	if consoleLevelErr != nil {
		log.Error(consoleLevelErr, "invalid console log level, using 'info'", "Variable", CDP_LOG_LEVEL)
	}
	if diagnosticsLogErr != nil {
		log.Error(diagnosticsLogErr, "failed to enable diagnostics log output")
	}

	return &Logger{
		Logger:      log,
		name:        name,
		atomicLevel: consoleAtomicLevel,
		flush: func() {
			_ = zapLogger.Sync() // Best effort
		},
	}
}

func (l *Logger) WithName(name string) *Logger {
	l.Logger = l.Logger.WithName(name)
	return l
}

// SetLevel changes the minimum level of console output.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Level() zapcore.Level {
	return l.atomicLevel.Level()
}

func (l *Logger) Flush() {
	l.flush()
}

// Add verbosity flag to enable setting console log levels
func (l *Logger) AddLevelFlag(flags *pflag.FlagSet) {
	levelVal := NewLevelFlagValue(func(level zapcore.Level) {
		l.SetLevel(level)
	})
	flags.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName, "Logging verbosity level (e.g. -v=debug). Can be one of 'debug', 'info', 'warn' or 'error', or any positive integer corresponding to increasing levels of debug verbosity.")
}

var errDiagnosticsLogNotEnabled = errors.New("diagnostics log not enabled")

func getDiagnosticsLogCore(name string, encoderConfig zapcore.EncoderConfig) (zapcore.Core, error) {
	logLevel, err := GetDiagnosticsLogLevel()
	if err != nil {
		return nil, err
	}

	logFolder, err := EnsureDiagnosticsLogsFolder()
	if err != nil {
		return nil, err
	}

	// The log file name is <name>-<timestamp>-<pid>.log
	logName := fmt.Sprintf("%s-%d-%d.log", name, time.Now().UnixMilli(), os.Getpid())
	logOutput, err := os.OpenFile(
		filepath.Join(logFolder, logName),
		os.O_RDWR|os.O_CREATE|os.O_EXCL,
		osutil.PermissionOnlyOwnerReadWrite,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	// Diagnostics log is machine readable
	logEncoder := zapcore.NewJSONEncoder(encoderConfig)
	return zapcore.NewCore(logEncoder, zapcore.AddSync(logOutput), zap.NewAtomicLevelAt(logLevel)), nil
}

// Returns the folder to write diagnostics logs to, creating it if necessary.
func EnsureDiagnosticsLogsFolder() (string, error) {
	logFolder := osutil.EnvVarStringWithDefault(CDP_DIAGNOSTICS_LOG_FOLDER, defaultLogPath)

	info, err := os.Stat(logFolder)
	if errors.Is(err, fs.ErrNotExist) {
		if err = os.MkdirAll(logFolder, osutil.PermissionOnlyOwnerReadWriteTraverse); err != nil {
			return "", fmt.Errorf("failed to create the diagnostic log folder '%s': %w", logFolder, err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to verify the existence of the diagnostic log folder '%s': %w", logFolder, err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("'%s' is not a directory and cannot be used as a log folder", logFolder)
	}

	return logFolder, nil
}

func GetDiagnosticsLogLevel() (zapcore.Level, error) {
	diagnosticsLogLevel, found := os.LookupEnv(CDP_DIAGNOSTICS_LOG_LEVEL)
	if !found {
		return zapcore.InvalidLevel, errDiagnosticsLogNotEnabled
	}

	logLevel, err := StringToLevel(diagnosticsLogLevel, zapcore.ErrorLevel)
	if err != nil {
		return zapcore.InvalidLevel, fmt.Errorf("failed to parse diagnostics log level: %w", err)
	}

	return logLevel, nil
}
