/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package exerciser

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	rotate "github.com/Psiphon-Inc/rotate-safe-writer"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/errors"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/stacktrace"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// ContextLogger adds context logging functionality to the
// underlying logging packages.
type ContextLogger struct {
	*logrus.Logger
}

// LogFields is an alias for the field struct in the
// underlying logging package.
type LogFields logrus.Fields

// WithTrace adds a "trace" field containing the caller's function name
// and source file line number. Use this function when the log has no
// fields.
func (logger *ContextLogger) WithTrace() *logrus.Entry {
	return logger.WithFields(
		logrus.Fields{
			"trace": stacktrace.GetParentFunctionName(),
		})
}

// WithTraceFields adds a "trace" field containing the caller's function
// name and source file line number. Use this function when the log has
// fields. Note that any existing "trace" field will be renamed to
// "field.trace".
func (logger *ContextLogger) WithTraceFields(fields LogFields) *logrus.Entry {
	renameTraceField(fields)
	fields["trace"] = stacktrace.GetParentFunctionName()
	return logger.WithFields(logrus.Fields(fields))
}

func renameTraceField(fields map[string]interface{}) {
	if trace, ok := fields["trace"]; ok {
		fields["fields.trace"] = trace
	}
}

// CustomJSONFormatter is a customized version of logrus.JSONFormatter
type CustomJSONFormatter struct {
}

// Format implements logrus.Formatter. This is a customized version
// of the standard logrus.JSONFormatter adapted from:
// https://github.com/Sirupsen/logrus/blob/f1addc29722ba9f7651bc42b4198d0944b66e7c4/json_formatter.go
//
// The changes are:
// - "time" is renamed to "timestamp"
// - error values are logged as their message
func (f *CustomJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+3)
	for k, v := range entry.Data {
		switch v := v.(type) {
		case error:
			// Otherwise errors are ignored by `encoding/json`
			// https://github.com/Sirupsen/logrus/issues/137
			data[k] = v.Error()
		default:
			data[k] = v
		}
	}

	if t, ok := data["timestamp"]; ok {
		data["fields.timestamp"] = t
	}
	data["timestamp"] = entry.Time.Format(logrus.DefaultTimestampFormat)

	if m, ok := data["msg"]; ok {
		data["fields.msg"] = m
	}
	if l, ok := data["level"]; ok {
		data["fields.level"] = l
	}
	data["msg"] = entry.Message
	data["level"] = entry.Level.String()

	serialized, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields to JSON: %v", err)
	}

	return append(serialized, '\n'), nil
}

var log *ContextLogger

// InitLogging configures the package logger according to config. Logs are
// JSON, or text when written to a terminal. If not called, the default
// logger set by the package init() is used.
// Concurrency note: should only be called from the main goroutine.
func InitLogging(config *Config) error {

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return errors.Trace(err)
	}

	var logWriter io.Writer = os.Stderr
	var formatter logrus.Formatter = &CustomJSONFormatter{}

	if config.LogFilename != "" {
		retries, create, mode := 10, true, os.FileMode(0600)
		logWriter, err = rotate.NewRotatableFileWriter(
			config.LogFilename, retries, create, mode)
		if err != nil {
			return errors.Trace(err)
		}
	} else if term.IsTerminal(int(os.Stderr.Fd())) {
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	log = newContextLogger(logWriter, formatter, level)

	return nil
}

func newContextLogger(
	out io.Writer, formatter logrus.Formatter, level logrus.Level) *ContextLogger {

	return &ContextLogger{
		&logrus.Logger{
			Out:       out,
			Formatter: formatter,
			Hooks:     make(logrus.LevelHooks),
			Level:     level,
		},
	}
}

func init() {
	log = newContextLogger(os.Stderr, &CustomJSONFormatter{}, logrus.InfoLevel)
}

// sessionLogger adapts the package logger to common.Logger, for use by
// sessions.
type sessionLogger struct{}

func (sessionLogger) WithTrace() common.LogTrace {
	return log.WithFields(
		logrus.Fields{
			"trace": stacktrace.GetParentFunctionName(),
		})
}

func (sessionLogger) WithTraceFields(fields common.LogFields) common.LogTrace {
	logFields := make(logrus.Fields, len(fields)+1)
	for k, v := range fields {
		logFields[k] = v
	}
	renameTraceField(logFields)
	logFields["trace"] = stacktrace.GetParentFunctionName()
	return log.WithFields(logFields)
}
