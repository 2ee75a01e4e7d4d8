// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package conf loads workload parameters from .INI style files and from
// command-line overrides of the form <section_name>.<option_name>=<value>.
//
// A ConfMap is accessed via confMap[section_name][option_name][option_value_index]
// or via the Fetch methods below.
package conf

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ConfMapOption []string
type ConfMapSection map[string]ConfMapOption
type ConfMap map[string]ConfMapSection

// MakeConfMap returns a newly created empty ConfMap
func MakeConfMap() (confMap ConfMap) {
	confMap = make(ConfMap)
	return
}

// MakeConfMapFromFile returns a newly created ConfMap loaded with the contents of the confFilePath-specified file
func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromFile(confFilePath)
	return
}

// MakeConfMapFromStrings returns a newly created ConfMap loaded with the contents specified in confStrings
func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromStrings(confStrings)
	if nil != err {
		err = fmt.Errorf("error building confMap from conf strings: %v", err)
	}
	return
}

// UpdateFromString modifies a pre-existing ConfMap based on an update
// specified in confString (e.g., from an extra command-line argument)
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	var (
		optionName  string
		optionValue []string
		sectionName string
	)

	sectionName, optionName, optionValue, err = parseOverride(confString)
	if nil != err {
		return
	}

	confMap.set(sectionName, optionName, optionValue)

	return
}

// UpdateFromStrings modifies a pre-existing ConfMap based on updates
// specified in confStrings
func (confMap ConfMap) UpdateFromStrings(confStrings []string) (err error) {
	for _, confString := range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			return
		}
	}
	return
}

// UpdateFromFile modifies a pre-existing ConfMap based on updates specified in confFilePath
//
// A confFilePath of "-" reads from os.Stdin.
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	err = confMap.updateFromFile(confFilePath, 0)
	return
}

// FetchOptionValueStringSlice returns [sectionName]optionName's string values
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValue []string, err error) {
	section, ok := confMap[sectionName]
	if !ok {
		err = fmt.Errorf("[%v] missing", sectionName)
		return
	}

	option, ok := section[optionName]
	if !ok {
		err = fmt.Errorf("[%v]%v missing", sectionName, optionName)
		return
	}

	optionValue = option

	return
}

// FetchOptionValueString returns [sectionName]optionName's single string value
func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	optionValueSlice, err := confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		return
	}

	switch len(optionValueSlice) {
	case 0:
		optionValue = ""
	case 1:
		optionValue = optionValueSlice[0]
	default:
		err = fmt.Errorf("[%v]%v must be single-valued", sectionName, optionName)
	}

	return
}

// FetchOptionValueBool returns [sectionName]optionName's single string value converted to a bool
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	switch strings.ToLower(optionValueString) {
	case "yes", "on", "true", "y", "1":
		optionValue = true
	case "no", "off", "false", "n", "0":
		optionValue = false
	default:
		err = fmt.Errorf("[%v]%v option value not recognized as boolean", sectionName, optionName)
	}

	return
}

// FetchOptionValueUint32 returns [sectionName]optionName's single string value converted to a uint32
func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	optionValueUint64, err := confMap.fetchUint(sectionName, optionName, 32)
	if nil != err {
		return
	}
	optionValue = uint32(optionValueUint64)
	return
}

// FetchOptionValueUint64 returns [sectionName]optionName's single string value converted to a uint64
func (confMap ConfMap) FetchOptionValueUint64(sectionName string, optionName string) (optionValue uint64, err error) {
	optionValue, err = confMap.fetchUint(sectionName, optionName, 64)
	return
}

// FetchOptionValueInt64 returns [sectionName]optionName's single string value converted to an int64
func (confMap ConfMap) FetchOptionValueInt64(sectionName string, optionName string) (optionValue int64, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseInt(optionValueString, 10, 64)
	if nil != err {
		err = fmt.Errorf("[%v]%v: %v", sectionName, optionName, err)
	}

	return
}

// FetchOptionValueFloat64 returns [sectionName]optionName's single string value converted to a float64
func (confMap ConfMap) FetchOptionValueFloat64(sectionName string, optionName string) (optionValue float64, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseFloat(optionValueString, 64)
	if nil != err {
		err = fmt.Errorf("[%v]%v: %v", sectionName, optionName, err)
	}

	return
}

// FetchOptionValueDuration returns [sectionName]optionName's single string value converted to a time.Duration
//
// A bare number (e.g. "2.5") is interpreted as seconds.
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	var (
		seconds float64
	)

	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	seconds, err = strconv.ParseFloat(optionValueString, 64)
	if nil == err {
		if 0 > seconds {
			err = fmt.Errorf("[%v]%v must be non-negative", sectionName, optionName)
			return
		}
		optionValue = time.Duration(seconds * float64(time.Second))
		return
	}

	optionValue, err = time.ParseDuration(optionValueString)
	if nil != err {
		err = fmt.Errorf("[%v]%v: %v", sectionName, optionName, err)
		return
	}
	if 0 > optionValue {
		err = fmt.Errorf("[%v]%v must be non-negative", sectionName, optionName)
	}

	return
}

// Has reports whether [sectionName]optionName has been specified at all
func (confMap ConfMap) Has(sectionName string, optionName string) bool {
	section, ok := confMap[sectionName]
	if !ok {
		return false
	}
	_, ok = section[optionName]
	return ok
}
