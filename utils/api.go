// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous helpers shared by the workload engine
// and its driver.
package utils

import (
	"os"
	"regexp"
	"runtime"
	"time"
)

var extractFnNameRE = regexp.MustCompile(`[^\/]*$`)
var extractPkgNameRE = regexp.MustCompile(`^[^.]*`)
var extractLastElementRE = regexp.MustCompile(`[^.]*$`)

// GetAFnName returns a string containing calling function and package
func GetAFnName(level int) string {
	// Get the PC for the level requested, adding one level to skip this function
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return ""
	}
	functionObject := runtime.FuncForPC(pc)
	if nil == functionObject {
		return ""
	}
	return extractFnNameRE.FindString(functionObject.Name())
}

// GetFuncPackage returns separate strings containing calling function and package
func GetFuncPackage(level int) (fn string, pkg string) {
	funcPkg := GetAFnName(level + 1)

	pkg = extractPkgNameRE.FindString(funcPkg)
	fn = extractLastElementRE.FindString(funcPkg)

	return
}

// Stopwatch times one operation; Stop() freezes ElapsedTime
type Stopwatch struct {
	StartTime   time.Time
	StopTime    time.Time
	ElapsedTime time.Duration
	IsRunning   bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

// NewStopwatchAt starts a Stopwatch whose start time was recorded earlier
func NewStopwatchAt(startTime time.Time) *Stopwatch {
	return &Stopwatch{StartTime: startTime, IsRunning: true}
}

func (sw *Stopwatch) Stop() time.Duration {
	if sw.IsRunning {
		sw.StopTime = time.Now()
		sw.ElapsedTime = sw.StopTime.Sub(sw.StartTime)
		sw.IsRunning = false
	}
	return sw.ElapsedTime
}

// EnsureDeleted removes path, treating an already missing path as success
func EnsureDeleted(path string) (err error) {
	err = os.Remove(path)
	if (nil != err) && os.IsNotExist(err) {
		err = nil
	}
	return
}

// EnsureDirExists creates path and any missing parents
func EnsureDirExists(path string) (err error) {
	err = os.MkdirAll(path, 0777)
	return
}

// Touch creates path if absent, leaving an existing file's contents alone
func Touch(path string) (err error) {
	var (
		file *os.File
	)

	file, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0666)
	if nil != err {
		return
	}
	err = file.Close()
	return
}

// WriteSyncFile replaces path's contents with data and flushes it to stable storage
func WriteSyncFile(path string, data []byte) (err error) {
	var (
		file *os.File
	)

	file, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if nil != err {
		return
	}

	_, err = file.Write(data)
	if nil == err {
		err = file.Sync()
	}
	if closeErr := file.Close(); nil == err {
		err = closeErr
	}

	return
}

// FileExists reports whether path names an existing file system object
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return nil == err
}
