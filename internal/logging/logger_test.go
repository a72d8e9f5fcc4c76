/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
	prev Level
	buf  *bytes.Buffer
	log  *Logger
}

func (s *LoggerTestSuite) SetupTest() {
	s.prev = CurrentLevel()
	s.buf = &bytes.Buffer{}
	s.log = New("test")
	s.log.SetOutput(s.buf)
}

func (s *LoggerTestSuite) TearDownTest() {
	SetLevel(s.prev)
}

func (s *LoggerTestSuite) TestLogColor() {
	SetLevel(LevelTrace)

	s.log.Tracef("this is tracef %s", "hello world")
	s.log.Debugf("this is debugf %s", "hello world")
	s.log.Infof("this is infof %s", "hello world")
	s.log.Warnf("this is warnf %s", "hello world")
	s.log.Errorf("this is errorf %s", "hello world")

	lines := strings.Split(strings.TrimSuffix(s.buf.String(), "\n"), "\n")
	s.Require().Len(lines, 5)
	for i, name := range levelName {
		s.Require().True(strings.HasPrefix(lines[i], colors[i]+name), lines[i])
		s.Require().Contains(lines[i], "hello world")
		s.Require().True(strings.HasSuffix(lines[i], reset))
	}
}

func (s *LoggerTestSuite) TestLevelFiltering() {
	SetLevel(LevelWarn)

	s.log.Infof("dropped")
	s.log.Debugf("dropped")
	s.Require().Zero(s.buf.Len())

	s.log.Warnf("kept")
	s.Require().Contains(s.buf.String(), "kept")
}

func (s *LoggerTestSuite) TestNoPrint() {
	SetLevel(LevelNoPrint)
	s.log.Errorf("silent")
	s.Require().Zero(s.buf.Len())
}

func (s *LoggerTestSuite) TestOutOfRangeLevelIgnored() {
	SetLevel(LevelInfo)
	SetLevel(Level(42))
	s.Require().Equal(LevelInfo, CurrentLevel())
	SetLevel(Level(-1))
	s.Require().Equal(LevelInfo, CurrentLevel())
}

func (s *LoggerTestSuite) TestCallerLocation() {
	SetLevel(LevelError)
	s.log.Errorf("where")
	s.Require().Contains(s.buf.String(), "logger_test.go:")
	s.Require().Contains(s.buf.String(), " test ")
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
