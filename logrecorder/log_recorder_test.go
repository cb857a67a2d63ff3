package logrecorder

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestRecorderWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "robobus.log")
	r, err := NewRecorder(Config{Debug: true, File: path})
	test.That(t, err, test.ShouldBeNil)

	r.Logger.Debugw("chunk accepted", "seq", 3)
	test.That(t, r.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "chunk accepted")
	test.That(t, string(contents), test.ShouldContainSubstring, `"seq":3`)
}

func TestRecorderConsoleOnly(t *testing.T) {
	r, err := NewRecorder(Config{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Logger.Desugar().Core().Enabled(zapcore.DebugLevel), test.ShouldBeFalse)
	test.That(t, r.Close(), test.ShouldBeNil)
}

func TestDateDir(t *testing.T) {
	root := t.TempDir()
	dir, err := DateDir(root)
	test.That(t, err, test.ShouldBeNil)
	info, err := os.Stat(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.IsDir(), test.ShouldBeTrue)
	test.That(t, filepath.Dir(dir), test.ShouldEqual, root)
	test.That(t, NowString(), test.ShouldHaveLength, len("20060102_1504"))
}
