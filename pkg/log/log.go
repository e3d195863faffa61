/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

type LogLevel int32

const (
	LogPrefix     = "[go-x6] "
	ErrorPrefix   = "[error] "
	WarningPrefix = "[warn] "
	InfoPrefix    = "[info] "
	DebugPrefix   = "[debug] "
	HelpLevels    = "Must be one of: error, warning, info, debug."
)

const (
	ErrorLevel LogLevel = iota
	WarningLevel
	InfoLevel
	DebugLevel
)

var levelMapping = map[string]LogLevel{
	"error":   ErrorLevel,
	"warning": WarningLevel,
	"info":    InfoLevel,
	"debug":   DebugLevel,
}

// Logger is safe for concurrent use. The level is read on the data path,
// so it is kept in an atomic.
type Logger struct {
	level int32
	*log.Logger
}

var logger = &Logger{
	level:  int32(InfoLevel),
	Logger: log.New(os.Stderr, LogPrefix, log.LstdFlags),
}

// ErrLogLevel is returned for an unrecognized level name
type ErrLogLevel struct {
	Level string
}

func (e ErrLogLevel) Error() string {
	return fmt.Sprintf("Wrong log level %q. %s", e.Level, HelpLevels)
}

func ParseLevel(strLevel string) (LogLevel, error) {
	level, ok := levelMapping[strLevel]
	if !ok {
		return ErrorLevel, ErrLogLevel{Level: strLevel}
	}
	return level, nil
}

func SetLevel(strLevel string) error {
	level, err := ParseLevel(strLevel)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&logger.level, int32(level))
	return nil
}

func Level() LogLevel {
	return LogLevel(atomic.LoadInt32(&logger.level))
}

// Init sets the output and the level. An empty level keeps the current one.
func Init(out io.Writer, strLevel string) error {
	logger.SetOutput(out)
	if strLevel == "" {
		return nil
	}
	return SetLevel(strLevel)
}

// Writer returns the current output, used for http access logs
func Writer() io.Writer {
	return logger.Writer()
}

func enabled(level LogLevel) bool {
	return Level() >= level
}

// DebugEnabled lets hot paths skip building debug arguments
func DebugEnabled() bool {
	return enabled(DebugLevel)
}

func Error(format string, v ...interface{}) {
	if enabled(ErrorLevel) {
		logger.Println(fmt.Sprintf(ErrorPrefix+format, v...))
	}
}

func Warning(format string, v ...interface{}) {
	if enabled(WarningLevel) {
		logger.Println(fmt.Sprintf(WarningPrefix+format, v...))
	}
}

func Info(format string, v ...interface{}) {
	if enabled(InfoLevel) {
		logger.Println(fmt.Sprintf(InfoPrefix+format, v...))
	}
}

func Debug(format string, v ...interface{}) {
	if enabled(DebugLevel) {
		logger.Println(fmt.Sprintf(DebugPrefix+format, v...))
	}
}
