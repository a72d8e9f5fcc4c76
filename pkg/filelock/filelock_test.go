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

package filelock

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"

	"github.com/srediag/shmipc-core/internal/logging"
	"github.com/srediag/shmipc-core/internal/metrics"
)

type FileLockTestSuite struct {
	suite.Suite
	dir    string
	logs   *bytes.Buffer
	prevLv logging.Level
}

func (s *FileLockTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.logs = &bytes.Buffer{}
	logger.SetOutput(s.logs)
	s.prevLv = logging.CurrentLevel()
	logging.SetLevel(logging.LevelError)
}

func (s *FileLockTestSuite) TearDownTest() {
	logger.SetOutput(nil)
	logging.SetLevel(s.prevLv)
}

func (s *FileLockTestSuite) create(name string) (*FileLock, error) {
	return NewBuilder().Name(name).Path(s.dir).Permission(0o600).Create(context.Background())
}

func (s *FileLockTestSuite) TestCreateAndRelease() {
	l, err := s.create("roudi")
	s.Require().NoError(err)
	s.Require().True(l.IsValid())
	s.Require().Equal(filepath.Join(s.dir, "roudi.lock"), l.Path())

	info, err := os.Stat(l.Path())
	s.Require().NoError(err)
	s.Require().Zero(info.Size())

	path := l.Path()
	s.Require().NoError(l.Release())
	s.Require().False(l.IsValid())
	s.Require().Empty(l.Path())

	_, err = os.Stat(path)
	s.Require().True(errors.Is(err, os.ErrNotExist), "lock file must be deleted on release")

	s.Require().NoError(l.Release(), "releasing twice is a no-op")
}

func (s *FileLockTestSuite) TestSecondAcquisitionIsLockedByOtherProcess() {
	first, err := s.create("contended")
	s.Require().NoError(err)

	before := metrics.CounterValue(metrics.FileLockAcquisitions.WithLabelValues(metrics.ResultLockedByOtherProcess))
	second, err := s.create("contended")
	s.Require().Nil(second)
	s.Require().ErrorIs(err, ErrLockedByOtherProcess)
	s.Require().Equal(ErrLockedByOtherProcess, err)
	s.Require().Zero(s.logs.Len(), "contention must not be logged as an error")
	s.Require().Equal(before+1,
		metrics.CounterValue(metrics.FileLockAcquisitions.WithLabelValues(metrics.ResultLockedByOtherProcess)))

	s.Require().NoError(first.Release())

	third, err := s.create("contended")
	s.Require().NoError(err)
	s.Require().NoError(third.Release())
}

func (s *FileLockTestSuite) TestPathWithTrailingSeparator() {
	l, err := NewBuilder().Name("trailing").Path(s.dir + "/").Create(context.Background())
	s.Require().NoError(err)
	defer l.Release()
	s.Require().Equal(s.dir+"/trailing.lock", l.Path())
}

func (s *FileLockTestSuite) TestInvalidName() {
	for _, name := range []string{"", "..", "with/slash", "with space"} {
		l, err := s.create(name)
		s.Require().Nil(l)
		s.Require().ErrorIs(err, ErrInvalidFileName, name)
	}
}

func (s *FileLockTestSuite) TestInvalidPath() {
	l, err := NewBuilder().Name("valid").Path("").Create(context.Background())
	s.Require().Nil(l)
	s.Require().ErrorIs(err, ErrInvalidPath)

	l, err = NewBuilder().Name("valid").Path("/tmp/not a dir").Create(context.Background())
	s.Require().Nil(l)
	s.Require().ErrorIs(err, ErrInvalidPath)
}

func (s *FileLockTestSuite) TestNoSuchDirectory() {
	l, err := NewBuilder().Name("lock").Path(filepath.Join(s.dir, "missing")).Create(context.Background())
	s.Require().Nil(l)
	s.Require().ErrorIs(err, ErrNoSuchDirectory)
	s.Require().Contains(s.logs.String(), "does not exist")
}

func (s *FileLockTestSuite) TestMoveTransfersLockOnce() {
	l, err := s.create("moved")
	s.Require().NoError(err)
	path := l.Path()

	moved := l.Move()
	s.Require().False(l.IsValid())
	s.Require().True(moved.IsValid())
	s.Require().Equal(path, moved.Path())

	// the moved-from lock performs no OS operation
	s.Require().NoError(l.Release())
	_, err = os.Stat(path)
	s.Require().NoError(err)
	_, err = s.create("moved")
	s.Require().ErrorIs(err, ErrLockedByOtherProcess)

	s.Require().NoError(moved.Release())
	_, err = os.Stat(path)
	s.Require().True(errors.Is(err, os.ErrNotExist))

	again, err := s.create("moved")
	s.Require().NoError(err)
	s.Require().NoError(again.Release())
}

func (s *FileLockTestSuite) TestMoveOfInvalidLock() {
	var l FileLock
	l.invalidate()
	moved := l.Move()
	s.Require().False(moved.IsValid())
	s.Require().NoError(moved.Release())
}

func (s *FileLockTestSuite) TestAssignReleasesPreviousLock() {
	a, err := s.create("a")
	s.Require().NoError(err)
	b, err := s.create("b")
	s.Require().NoError(err)
	pathA, pathB := a.Path(), b.Path()

	a.Assign(b)
	s.Require().False(b.IsValid())
	s.Require().Equal(pathB, a.Path())

	_, err = os.Stat(pathA)
	s.Require().True(errors.Is(err, os.ErrNotExist), "previous lock of the target is released")

	reacquired, err := s.create("a")
	s.Require().NoError(err)
	s.Require().NoError(reacquired.Release())

	_, err = s.create("b")
	s.Require().ErrorIs(err, ErrLockedByOtherProcess)
	s.Require().NoError(a.Release())
}

func (s *FileLockTestSuite) TestAssignIgnoresSelfNilAndInvalid() {
	a, err := s.create("self")
	s.Require().NoError(err)
	path := a.Path()

	a.Assign(a)
	s.Require().True(a.IsValid())
	a.Assign(nil)
	s.Require().True(a.IsValid())
	invalid := &FileLock{fd: invalidFD}
	a.Assign(invalid)
	s.Require().True(a.IsValid())
	s.Require().Equal(path, a.Path())

	s.Require().NoError(a.Release())
}

func (s *FileLockTestSuite) TestReleaseAggregatesFailures() {
	l, err := s.create("broken")
	s.Require().NoError(err)
	path := l.Path()

	// Closing the descriptor behind the lock's back makes unlock and close fail,
	// the delete step must still run.
	s.Require().NoError(unix.Close(l.fd))
	s.Require().ErrorIs(l.Release(), ErrInternalLogicError)
	s.Require().False(l.IsValid())
	s.Require().Contains(s.logs.String(), "Unable to unlock")
	s.Require().Contains(s.logs.String(), "Unable to close")

	_, err = os.Stat(path)
	s.Require().True(errors.Is(err, os.ErrNotExist))
}

func (s *FileLockTestSuite) TestCodeStrings() {
	s.Require().Equal("LOCKED_BY_OTHER_PROCESS", ErrLockedByOtherProcess.String())
	s.Require().True(strings.HasPrefix(ErrIOError.Error(), "filelock: "))
	s.Require().Equal("UNKNOWN", Code(0).String())
}

func TestFileLockTestSuite(t *testing.T) {
	suite.Run(t, new(FileLockTestSuite))
}
