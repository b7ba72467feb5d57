package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type reprojection struct {
	View  int
	Error float64
	notes string
}

// assertLogMatches checks the level, caller file, message and fields of one log line. The
// timestamp is only checked for its length and the line number only for being a number.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[3], test.ShouldEqual, expectedParts[3])
	if len(actualParts) == 4 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[4]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[4]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(level Level) (*impl, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	return &impl{"", NewAtomicLevelAt(level), true, []Appender{NewWriterAppender(notStdout)}}, notStdout
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, notStdout := newBufferLogger(DEBUG)

	logger.Info("calibration done")
	assertLogMatches(t, notStdout,
		`2024-03-01T09:12:09.459Z	INFO	logging/impl_test.go:60	calibration done`)

	logger.Infof("accepted %d of %d images", 8, 10)
	assertLogMatches(t, notStdout,
		`2024-03-01T09:12:09.459Z	INFO	logging/impl_test.go:64	accepted 8 of 10 images`)

	logger.Debugw("view error", "view", 3, "rmse", 0.25)
	assertLogMatches(t, notStdout,
		`2024-03-01T09:12:09.459Z	DEBUG	logging/impl_test.go:68	view error	{"view":3,"rmse":0.25}`)

	// Only public fields of structs are serialized.
	logger.Warnw("outlier", "reprojection", reprojection{View: 2, Error: 1.5, notes: "blurry"})
	assertLogMatches(t, notStdout,
		`2024-03-01T09:12:09.459Z	WARN	logging/impl_test.go:73	outlier	{"reprojection":{"View":2,"Error":1.5}}`)

	// A dangling key is kept and paired with an error value.
	logger.Errorw("bad call", "key")
	assertLogMatches(t, notStdout,
		`2024-03-01T09:12:09.459Z	ERROR	logging/impl_test.go:78	bad call	{"key":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	logger, notStdout := newBufferLogger(WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	assertLogMatches(t, notStdout,
		`2024-03-01T09:12:09.459Z	WARN	logging/impl_test.go:90	kept`)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debug("now kept")
	assertLogMatches(t, notStdout,
		`2024-03-01T09:12:09.459Z	DEBUG	logging/impl_test.go:96	now kept`)
}

func TestLevelFromString(t *testing.T) {
	for input, expected := range map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warn":    WARN,
		"warning": WARN,
		"error":   ERROR,
	} {
		level, err := LevelFromString(input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"error"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, ERROR)
	out, err := json.Marshal(INFO)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"info"`)
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("stereo").Sublogger("solver")

	sub.Infow("iteration", "cost", 1.25)
	entries := observed.FilterMessage("iteration").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "stereo.solver")
	test.That(t, entries[0].ContextMap()["cost"], test.ShouldEqual, 1.25)

	// Sublogger levels are independent from the parent.
	sub.SetLevel(ERROR)
	sub.Info("hidden")
	logger.Info("shown")
	test.That(t, observed.FilterMessage("hidden").Len(), test.ShouldEqual, 0)
	test.That(t, observed.FilterMessage("shown").Len(), test.ShouldEqual, 1)
}

func TestAsZap(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.AsZap().Named("zap").Infow("through zap", "k", "v")
	test.That(t, observed.FilterMessage("through zap").Len(), test.ShouldEqual, 1)
}

type failingAppender struct{}

func (failingAppender) Write(_ zapcore.Entry, _ []zapcore.Field) error { return nil }
func (failingAppender) Sync() error                                    { return errors.New("sync failed") }

func TestSyncCombinesErrors(t *testing.T) {
	logger := NewBlankLogger("sync")
	logger.AddAppender(failingAppender{})
	logger.AddAppender(failingAppender{})
	err := logger.Sync()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sync failed")
}
