// Package gethlog is a small leveled logger in the style of go-ethereum's
// own log package: Debug/Trace/Info/Warn/Error/Crit calls that take a
// message followed by alternating key/value pairs. It is not a generic
// logging facade — rangesync and its cmd/rangesyncd demo driver are the
// only consumers — so it stays small.
package gethlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log severity level, ordered from most to least verbose.
type Lvl int

const (
	LvlTrace Lvl = iota
	LvlDebug
	LvlInfo
	LvlWarn
	LvlError
	LvlCrit
)

func (l Lvl) String() string {
	switch l {
	case LvlTrace:
		return "TRACE"
	case LvlDebug:
		return "DEBUG"
	case LvlInfo:
		return "INFO"
	case LvlWarn:
		return "WARN"
	case LvlError:
		return "ERROR"
	case LvlCrit:
		return "CRIT"
	default:
		return "?????"
	}
}

var (
	mu       sync.Mutex
	out      io.Writer = colorable.NewColorable(os.Stderr)
	useColor           = isatty.IsTerminal(os.Stderr.Fd())
	minLvl   int32      = int32(LvlDebug)
)

// SetOutput redirects log output, e.g. to capture lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(l Lvl) {
	atomic.StoreInt32(&minLvl, int32(l))
}

func write(l Lvl, msg string, ctx ...interface{}) {
	if int32(l) < atomic.LoadInt32(&minLvl) {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	call := stack.Caller(2)
	ts := time.Now().Format("01-02|15:04:05.000")

	var b []byte
	if useColor {
		b = append(b, []byte(fmt.Sprintf("\x1b[%dmLVL[%s]\x1b[0m[%s] %s", colorFor(l), l, ts, msg))...)
	} else {
		b = append(b, []byte(fmt.Sprintf("LVL[%s][%s] %s", l, ts, msg))...)
	}
	for i := 0; i+1 < len(ctx); i += 2 {
		b = append(b, []byte(fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1]))...)
	}
	b = append(b, []byte(fmt.Sprintf(" caller=%+v\n", call))...)
	out.Write(b)
}

func colorFor(l Lvl) int {
	switch l {
	case LvlTrace, LvlDebug:
		return 36
	case LvlInfo:
		return 32
	case LvlWarn:
		return 33
	case LvlError, LvlCrit:
		return 31
	default:
		return 0
	}
}

func Trace(msg string, ctx ...interface{}) { write(LvlTrace, msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { write(LvlDebug, msg, ctx...) }
func Info(msg string, ctx ...interface{})  { write(LvlInfo, msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { write(LvlWarn, msg, ctx...) }
func Error(msg string, ctx ...interface{}) { write(LvlError, msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { write(LvlCrit, msg, ctx...) }
