package shm

import (
	"bytes"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/srediag/shmipc-core/internal/logging"
)

var nameCounter atomic.Uint64

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, os.Getpid(), nameCounter.Add(1))
}

// captureLogs redirects the package logger and returns a restore func.
func captureLogs(level logging.Level) (*bytes.Buffer, func()) {
	buf := &bytes.Buffer{}
	prev := logging.CurrentLevel()
	logger.SetOutput(buf)
	logging.SetLevel(level)
	return buf, func() {
		logger.SetOutput(nil)
		logging.SetLevel(prev)
	}
}

func segmentExists(name string) bool {
	_, err := os.Stat("/dev/shm/" + name)
	return err == nil
}
