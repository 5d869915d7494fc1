package log

import (
	"fmt"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	lines []string
}

func (r *recorder) Close() {}
func (r *recorder) Debugf(format string, a ...any) {
	r.lines = append(r.lines, "D "+fmt.Sprintf(format, a...))
}
func (r *recorder) Infof(format string, a ...any) {
	r.lines = append(r.lines, "I "+fmt.Sprintf(format, a...))
}
func (r *recorder) Warnf(format string, a ...any) {
	r.lines = append(r.lines, "W "+fmt.Sprintf(format, a...))
}
func (r *recorder) Errorf(format string, a ...any) {
	r.lines = append(r.lines, "E "+fmt.Sprintf(format, a...))
}
func (r *recorder) Criticalf(format string, a ...any) {
	r.lines = append(r.lines, "C "+fmt.Sprintf(format, a...))
}

var _ logs.Log = (*recorder)(nil)
var _ logs.Log = (*PrefixLogger)(nil)

func TestPrefix(t *testing.T) {
	r := &recorder{}
	l := NewPrefixLogger(r, "preprocess")
	l.Infof("%v scans", 3)
	l.Scan("abc").Errorf("Failed: %v", "boom")
	require.Equal(t, []string{"I preprocess 3 scans", "E preprocess [abc] Failed: boom"}, r.lines)

	NewPrefixLogger(logs.NewTestingLog(t), "x").Debugf("hello")
}
