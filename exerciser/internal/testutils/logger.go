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

package testutils

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common"
	"github.com/Psiphon-Labs/tls-exerciser/exerciser/common/stacktrace"
)

// TestLogger is a common.Logger that prints to stdout and retains each
// logged message so tests may inspect them. Debug messages are retained
// but not printed.
type TestLogger struct {
	mutex    sync.Mutex
	messages []string
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (logger *TestLogger) WithTrace() common.LogTrace {
	return &testLoggerTrace{
		logger: logger,
		trace:  stacktrace.GetParentFunctionName(),
	}
}

func (logger *TestLogger) WithTraceFields(fields common.LogFields) common.LogTrace {
	return &testLoggerTrace{
		logger: logger,
		trace:  stacktrace.GetParentFunctionName(),
		fields: fields,
	}
}

// Messages returns a copy of every message logged so far.
func (logger *TestLogger) Messages() []string {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return append([]string(nil), logger.messages...)
}

func (logger *TestLogger) record(message string) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.messages = append(logger.messages, message)
}

type testLoggerTrace struct {
	logger *TestLogger
	trace  string
	fields common.LogFields
}

func (trace *testLoggerTrace) log(priority string, print bool, args ...interface{}) {

	message := fmt.Sprint(args...)
	trace.logger.record(message)
	if !print {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if len(trace.fields) == 0 {
		fmt.Printf("[%s] %s: %s: %s\n", now, priority, trace.trace, message)
		return
	}

	fields := common.LogFields{}
	for k, v := range trace.fields {
		if err, ok := v.(error); ok {
			// Workaround for Go issue 5161: error types marshal to "{}"
			fields[k] = err.Error()
			continue
		}
		fields[k] = v
	}
	jsonFields, _ := json.Marshal(fields)
	fmt.Printf("[%s] %s: %s: %s %s\n", now, priority, trace.trace, message, jsonFields)
}

func (trace *testLoggerTrace) Debug(args ...interface{}) {
	trace.log("DEBUG", false, args...)
}

func (trace *testLoggerTrace) Info(args ...interface{}) {
	trace.log("INFO", true, args...)
}

func (trace *testLoggerTrace) Warning(args ...interface{}) {
	trace.log("WARNING", true, args...)
}

func (trace *testLoggerTrace) Error(args ...interface{}) {
	trace.log("ERROR", true, args...)
}
