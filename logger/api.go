// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package and calling function to all process-level logs.
// Per-thread workload logs are handed out by a Registry (see registry.go).
//
// Logging of trace logs is enabled/disabled on a per package basis.
package logger

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/smallfile/utils"
)

type Level int

const (
	// PanicLevel corresponds to logrus.PanicLevel
	PanicLevel Level = iota
	// FatalLevel corresponds to logrus.FatalLevel; Logrus will log and then call `os.Exit(1)`
	FatalLevel
	// ErrorLevel corresponds to logrus.ErrorLevel
	ErrorLevel
	// WarnLevel corresponds to logrus.WarnLevel
	WarnLevel
	// InfoLevel corresponds to logrus.InfoLevel
	InfoLevel
	// TraceLevel is enabled per package via Logging.TraceLevelLogging and logged at logrus.InfoLevel
	TraceLevel
)

const (
	packageKey  = "package"
	functionKey = "function"
	errorKey    = "error"
)

// packageTraceSettings controls whether tracing is enabled for particular packages.
//
// Note: In order to enable tracing for a package using the "Logging.TraceLevelLogging"
// config variable, the package must be in this map.
//
var packageTraceSettings = map[string]bool{
	"pacing":     false,
	"smfworkout": false,
	"syncfile":   false,
	"workload":   false,
}

var backtraceOneLevel = 1

func traceEnabled(pkg string) bool {
	globals.Lock()
	defer globals.Unlock()
	return packageTraceSettings[pkg]
}

func newLogEntry(level int) (entry *log.Entry, pkg string) {
	var (
		fn string
	)

	fn, pkg = utils.GetFuncPackage(level + 1)

	entry = log.WithFields(log.Fields{
		functionKey: fn,
		packageKey:  pkg,
	})

	return
}

func emit(entry *log.Entry, level Level, message string) {
	switch level {
	case PanicLevel:
		entry.Panic(message)
	case FatalLevel:
		entry.Fatal(message)
	case ErrorLevel:
		entry.Error(message)
	case WarnLevel:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

func logf(level Level, err error, format string, args ...interface{}) {
	entry, pkg := newLogEntry(backtraceOneLevel + 1)

	if (TraceLevel == level) && !traceEnabled(pkg) {
		return
	}

	if nil != err {
		entry = entry.WithField(errorKey, err)
	}

	emit(entry, level, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, nil, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	logf(InfoLevel, nil, format, args...)
}

func Tracef(format string, args ...interface{}) {
	logf(TraceLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	logf(WarnLevel, nil, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	logf(ErrorLevel, err, format, args...)
}

func FatalfWithError(err error, format string, args ...interface{}) {
	logf(FatalLevel, err, format, args...)
}

func InfofWithError(err error, format string, args ...interface{}) {
	logf(InfoLevel, err, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	logf(WarnLevel, err, format, args...)
}
