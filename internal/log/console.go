/*
 * Copyright (c) "BoltGraph"
 * BoltGraph Authors
 *
 * This file is part of graphdb-go-driver.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package log

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// console is the default, non-nop Logger: structured output via zerolog,
// one event per call, fields for subsystem name and correlation id.
type console struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// Console builds a Logger that writes to w (os.Stderr if nil) at or above
// level. Unlike the teacher's neo4j.ConsoleLogger, which formats plain
// text lines by hand, this one emits structured zerolog events so the
// driver's logs can be ingested the same way as the rest of a zerolog-based
// service.
func Console(level zerolog.Level, w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.SetGlobalLevel(level)
	return &console{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		level:  level,
	}
}

func (c *console) Error(name Name, id string, err error) {
	c.logger.Error().Str("component", string(name)).Str("id", id).Err(err).Send()
}

func (c *console) Warnf(name Name, id string, msg string, args ...any) {
	c.logger.Warn().Str("component", string(name)).Str("id", id).Msg(fmt.Sprintf(msg, args...))
}

func (c *console) Infof(name Name, id string, msg string, args ...any) {
	c.logger.Info().Str("component", string(name)).Str("id", id).Msg(fmt.Sprintf(msg, args...))
}

func (c *console) Debugf(name Name, id string, msg string, args ...any) {
	c.logger.Debug().Str("component", string(name)).Str("id", id).Msg(fmt.Sprintf(msg, args...))
}
