package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestFileAppender(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "logs", "ublox.log")
	appender := NewFileAppender(filename)

	logger := &impl{"file", NewAtomicLevelAt(INFO), true, []Appender{appender}}
	logger.Infow("first fix", "ttff", "31s")
	logger.Debug("filtered out")
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(filename)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Count(string(contents), "\n"), test.ShouldEqual, 1)
	assertLogMatches(t, bytes.NewBuffer(contents), `2023-10-30T09:12:09.459Z	INFO	file	logging/file_appender_test.go:20	first fix	{"ttff":"31s"}`)
}
