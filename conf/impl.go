// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"bufio"
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Including files may nest, but not forever
const maxIncludeDepth = 16

// RegEx components used below:

const assignment = "([ \t]*[=:][ \t]*)"
const separator = "([ \t]+|([ \t]*,[ \t]*))"
const token = "([0-9A-Za-z_\\*\\-/:\\.\\[\\]~+@%]+)"

// An override looks like one of:
//
//   <section_name>.<option_name> =
//   <section_name>.<option_name> : <value_1>
//   <section_name>.<option_name> = <value_1>, <value_2> <value_3>

var overrideRE = regexp.MustCompile("\\A([0-9A-Za-z_\\-/:]+)\\.([0-9A-Za-z_\\-/:\\.]+)" + assignment + "(.*)\\z")

// A .conf file looks like:
//
//   [<section_name>]            ; comment
//   <option_name> = <value>     # comment
//
//   .include <path relative to the including file>

var sectionHeaderLineRE = regexp.MustCompile("\\A\\[" + token + "\\]\\z")
var optionLineRE = regexp.MustCompile("\\A" + token + assignment + "(.*)\\z")
var includeLineRE = regexp.MustCompile("\\A\\.include[ \t]+(\\S+)\\z")
var optionValueSeparatorRE = regexp.MustCompile(separator)
var optionValueRE = regexp.MustCompile("\\A" + token + "\\z")

func parseOverride(confString string) (sectionName string, optionName string, optionValue []string, err error) {
	trimmed := strings.Trim(confString, " \t")
	if 0 == len(trimmed) {
		err = fmt.Errorf("trimmed confString: \"%v\" was found to be empty", confString)
		return
	}

	match := overrideRE.FindStringSubmatch(trimmed)
	if nil == match {
		err = fmt.Errorf("malformed confString: \"%v\"", confString)
		return
	}

	sectionName = match[1]
	optionName = match[2]

	optionValue, err = splitOptionValues(match[4])
	if nil != err {
		err = fmt.Errorf("malformed confString: \"%v\": %v", confString, err)
	}

	return
}

func splitOptionValues(optionValues string) (optionValue []string, err error) {
	optionValues = strings.Trim(optionValues, " \t")
	if "" == optionValues {
		optionValue = []string{}
		return
	}

	optionValue = optionValueSeparatorRE.Split(optionValues, -1)

	for _, value := range optionValue {
		if !optionValueRE.MatchString(value) {
			err = fmt.Errorf("option value %q contains unsupported characters", value)
			return
		}
	}

	return
}

func (confMap ConfMap) set(sectionName string, optionName string, optionValue []string) {
	section, found := confMap[sectionName]
	if !found {
		section = make(ConfMapSection)
		confMap[sectionName] = section
	}

	section[optionName] = optionValue
}

func (confMap ConfMap) updateFromFile(confFilePath string, depth int) (err error) {
	var (
		confFileBytes      []byte
		currentLine        string
		currentLineNumber  int
		currentSectionName string
		includePath        string
		match              []string
		optionValue        []string
		scanner            *bufio.Scanner
	)

	if maxIncludeDepth < depth {
		err = fmt.Errorf("file %v exceeds .include nesting limit of %v", confFilePath, maxIncludeDepth)
		return
	}

	if "-" == confFilePath {
		confFileBytes, err = ioutil.ReadAll(os.Stdin)
	} else {
		confFileBytes, err = ioutil.ReadFile(confFilePath)
	}
	if nil != err {
		return
	}

	scanner = bufio.NewScanner(bytes.NewReader(confFileBytes))

	for scanner.Scan() {
		currentLineNumber++

		currentLine = scanner.Text()
		currentLine = strings.SplitN(currentLine, ";", 2)[0] // Trim comment after ';'
		currentLine = strings.SplitN(currentLine, "#", 2)[0] // Trim comment after '#'
		currentLine = strings.Trim(currentLine, " \t")

		if 0 == len(currentLine) {
			continue
		}

		if match = includeLineRE.FindStringSubmatch(currentLine); nil != match {
			includePath = match[1]
			if !filepath.IsAbs(includePath) && ("-" != confFilePath) {
				includePath = filepath.Join(filepath.Dir(confFilePath), includePath)
			}

			err = confMap.updateFromFile(includePath, depth+1)
			if nil != err {
				return
			}

			// Options following an .include must be preceded by a new Section Header

			currentSectionName = ""

			continue
		}

		if match = sectionHeaderLineRE.FindStringSubmatch(currentLine); nil != match {
			currentSectionName = match[1]
			continue
		}

		if "" == currentSectionName {
			err = fmt.Errorf("file %v line %v: option found outside of any Section", confFilePath, currentLineNumber)
			return
		}

		match = optionLineRE.FindStringSubmatch(currentLine)
		if nil == match {
			err = fmt.Errorf("file %v line %v: malformed line '%v'", confFilePath, currentLineNumber, currentLine)
			return
		}

		optionValue, err = splitOptionValues(match[3])
		if nil != err {
			err = fmt.Errorf("file %v line %v: %v", confFilePath, currentLineNumber, err)
			return
		}

		confMap.set(currentSectionName, match[1], optionValue)
	}

	err = scanner.Err()

	return
}

func (confMap ConfMap) fetchUint(sectionName string, optionName string, bitSize int) (optionValue uint64, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseUint(optionValueString, 10, bitSize)
	if nil != err {
		err = fmt.Errorf("[%v]%v: %v", sectionName, optionName, err)
	}

	return
}
