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

package common

// Logger exposes a logging interface that's compatible with
// exerciser.ContextLogger. This interface allows packages such as
// session to log without importing the exerciser package or a
// particular logging library.
type Logger interface {
	WithTrace() LogTrace
	WithTraceFields(fields LogFields) LogTrace
}

// LogTrace is interface-compatible with the return values from
// Logger.WithTrace/WithTraceFields.
type LogTrace interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warning(args ...interface{})
	Error(args ...interface{})
}

// LogFields is type-compatible with logrus.Fields.
type LogFields map[string]interface{}

// NopLogger is a Logger that discards all logs.
type NopLogger struct{}

func (NopLogger) WithTrace() LogTrace { return nopLogTrace{} }

func (NopLogger) WithTraceFields(LogFields) LogTrace { return nopLogTrace{} }

type nopLogTrace struct{}

func (nopLogTrace) Debug(args ...interface{})   {}
func (nopLogTrace) Info(args ...interface{})    {}
func (nopLogTrace) Warning(args ...interface{}) {}
func (nopLogTrace) Error(args ...interface{})   {}
