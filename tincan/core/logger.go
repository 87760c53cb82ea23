/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import (
	"os"
	"strings"

	"github.com/ipop-project/tincan/std/log"
)

var Log = log.Default()
var logFileObj *os.File

// OpenLogger initializes the logger.
func OpenLogger() {
	// open file if filename is not empty
	if C.Core.LogFile == "" {
		logFileObj = os.Stderr
	} else {
		var err error
		logFileObj, err = os.OpenFile(C.ResolveRelPath(C.Core.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(err)
		}
	}

	// create new logger
	if C.Core.LogFormat == "json" {
		Log = log.NewJson(logFileObj)
	} else {
		Log = log.NewText(logFileObj)
	}

	// set log level
	level, err := log.ParseLevel(C.Core.LogLevel)
	if err != nil {
		panic(err)
	}
	Log.SetLevel(level)
	log.SetDefault(Log)
}

// controllerLevels are the level names of the controller that the
// logger does not know.
var controllerLevels = map[string]log.Level{
	"VERBOSE":   log.LevelDebug,
	"SENSITIVE": log.LevelTrace,
}

// SetLogLevel changes the level of the running logger.
func SetLogLevel(name string) error {
	level, ok := controllerLevels[strings.ToUpper(name)]
	if !ok {
		var err error
		if level, err = log.ParseLevel(name); err != nil {
			return err
		}
	}
	Log.SetLevel(level)
	return nil
}

// CloseLogger shuts down the logger.
func CloseLogger() {
	if logFileObj != nil && logFileObj != os.Stderr {
		logFileObj.Close()
	}
}

// PionLogger returns a factory bridging pion logs into Log.
func PionLogger() *log.PionFactory {
	return &log.PionFactory{Logger: Log, Shift: 1}
}
