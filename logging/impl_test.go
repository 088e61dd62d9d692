package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type satSummary struct {
	PRN int
	cno int
}

// assertLogMatches fuzzy matches a log line. The time format is checked by length only and the
// line number only needs to be a number.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))

	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, _ := strings.Cut(expectedParts[3], ":")
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(level Level) (*impl, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	return &impl{"ublox", NewAtomicLevelAt(level), true, []Appender{NewWriterAppender(notStdout)}}, notStdout
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, notStdout := newBufferLogger(DEBUG)

	logger.Info("receiver started")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	ublox	logging/impl_test.go:62	receiver started`)

	logger.Warn("unexpected reply ", "UBX-ACK-NAK")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	ublox	logging/impl_test.go:66	unexpected reply UBX-ACK-NAK`)

	logger.Debugw("config", "class", 1, "id", 7)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	ublox	logging/impl_test.go:70	config	{"class":1,"id":7}`)

	// Only exported struct fields are serialized.
	logger.Infow("sat", "summary", satSummary{PRN: 3, cno: 40})
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	ublox	logging/impl_test.go:75	sat	{"summary":{"PRN":3}}`)

	logger.Infow("unpaired", "dangling")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	ublox	logging/impl_test.go:79	unpaired	{"dangling":"unpaired log key"}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, notStdout := newBufferLogger(WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Error("kept")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	ERROR	ublox	logging/impl_test.go:91	kept`)

	// A debug-mode context overrides the level for CDebugw and tags the line.
	logger.CDebugw(context.Background(), "dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
	logger.CDebugw(EnableDebugMode(context.Background(), "startup"), "kept", "n", 1)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	ublox	logging/impl_test.go:98	kept	{"n":1,"trace":"startup"}`)

	test.That(t, GetName(EnableDebugMode(context.Background(), "")), test.ShouldHaveLength, 6)
	test.That(t, GetName(context.Background()), test.ShouldBeEmpty)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debug("now kept")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	ublox	logging/impl_test.go:104	now kept`)
}

func TestSublogger(t *testing.T) {
	logger, notStdout := newBufferLogger(INFO)
	sub := logger.Sublogger("receiver")
	sub.Info("hello")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	ublox.receiver	logging/impl_test.go:112	hello`)

	// Subloggers copy the level at creation time and then diverge.
	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Warnw("nak", "msg", "UBX-CFG-MSG")
	test.That(t, observed.FilterMessage("nak").Len(), test.ShouldEqual, 1)
	test.That(t, observed.All()[0].ContextMap()["msg"], test.ShouldEqual, "UBX-CFG-MSG")
}
