package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// EarlyLog writes JSON lines shaped like the structured logger's output
// before that logger is configured.
type EarlyLog struct {
	out io.Writer
	now func() time.Time
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stderr, now: time.Now}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) { l.write("error", msg, args) }

func (l *EarlyLog) Warn(msg string, args ...interface{}) { l.write("warn", msg, args) }

func (l *EarlyLog) Info(msg string, args ...interface{}) { l.write("info", msg, args) }

func (l *EarlyLog) write(level, msg string, args []interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line, _ := json.Marshal(struct {
		Level     string `json:"level"`
		Timestamp string `json:"timestamp"`
		Message   string `json:"message"`
	}{level, l.now().Format("2006-01-02T15:04:05.000Z0700"), msg})
	l.out.Write(append(line, '\n'))
}
