// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/smallfile/conf"
)

type globalsStruct struct {
	sync.Mutex
	logFile *os.File
}

var globals globalsStruct

func init() {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})
}

// Up configures the process logger from the [Logging] section of confMap
//
// Recognized options (all optional):
//
//   LogFilePath       - append log entries to this file (default: stderr only)
//   LogToConsole      - when LogFilePath is set, also log to stderr
//   TraceLevelLogging - list of packages (or "none") whose Tracef() calls are emitted
//
func Up(confMap conf.ConfMap) (err error) {
	var (
		logFilePath  string
		logToConsole bool
		traceSlice   []string
	)

	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	logFilePath, _ = confMap.FetchOptionValueString("Logging", "LogFilePath")
	if "" != logFilePath {
		globals.Lock()
		globals.logFile, err = os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		globals.Unlock()
		if nil != err {
			log.Errorf("couldn't open log file: %v", err)
			return
		}
	}

	logToConsole, err = confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		logToConsole = false
	}

	if "" != logFilePath {
		if logToConsole {
			log.SetOutput(io.MultiWriter(globals.logFile, os.Stderr))
		} else {
			log.SetOutput(globals.logFile)
		}
	}

	log.SetLevel(log.InfoLevel)

	traceSlice, _ = confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceSlice)

	err = nil
	return
}

// Down restores stderr logging and closes any log file opened by Up()
func Down() (err error) {
	globals.Lock()
	defer globals.Unlock()

	log.SetOutput(os.Stderr)

	if nil != globals.logFile {
		err = globals.logFile.Close()
		globals.logFile = nil
	}

	for pkg := range packageTraceSettings {
		packageTraceSettings[pkg] = false
	}

	return
}

func setTraceLoggingLevel(confStrSlice []string) {
	globals.Lock()
	defer globals.Unlock()

	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			for name := range packageTraceSettings {
				packageTraceSettings[name] = false
			}
			return
		case "all":
			for name := range packageTraceSettings {
				packageTraceSettings[name] = true
			}
		default:
			if _, ok := packageTraceSettings[pkg]; ok {
				packageTraceSettings[pkg] = true
			} else {
				log.Warnf("Logging.TraceLevelLogging: unknown package %v", pkg)
			}
		}
	}
}
