package poollog

import (
	"sync/atomic"
	"time"
)

// Logger is a named, leveled, structured logger. A Logger with child
// loggers created via With() forms a context chain: each child's
// structured fields are prepended to the fields of every event it logs.
type Logger struct {
	name string
	h    atomic.Value // Handler
	lvl  atomic.Int32

	parent *Logger
	data   []interface{}
}

// New creates a root Logger named name, logging through h at level lvl.
func New(name string, lvl Level, h Handler) *Logger {
	l := &Logger{name: name}
	l.h.Store(h)
	l.lvl.Store(int32(lvl))
	return l
}

// With returns a child Logger that always includes kv in its events, in
// addition to any fields its own With chain already carries.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{
		name:   l.name,
		parent: l,
		data:   normalize(kv),
	}
}

// SetHandler swaps the Handler this Logger (and its With-descendants) log
// through.
func (l *Logger) SetHandler(h Handler) {
	root := l
	for root.parent != nil {
		root = root.parent
	}
	root.h.Store(h)
}

func (l *Logger) handler() Handler {
	root := l
	for root.parent != nil {
		root = root.parent
	}
	return root.h.Load().(Handler)
}

// SetLevel sets the minimum severity this Logger (and its With-descendants)
// will emit.
func (l *Logger) SetLevel(lvl Level) {
	root := l
	for root.parent != nil {
		root = root.parent
	}
	root.lvl.Store(int32(lvl))
}

// Does reports whether this Logger would emit an event at lvl.
func (l *Logger) Does(lvl Level) bool {
	root := l
	for root.parent != nil {
		root = root.parent
	}
	return int32(lvl) <= root.lvl.Load()
}

func (l *Logger) fields() []interface{} {
	var chain []*Logger
	for c := l; c != nil; c = c.parent {
		chain = append(chain, c)
	}
	var n int
	for _, c := range chain {
		n += len(c.data)
	}
	out := make([]interface{}, 0, n)
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].data...)
	}
	return out
}

// Log emits an event at lvl if the Logger's level allows it.
func (l *Logger) Log(lvl Level, msg string, kv ...interface{}) {
	if !l.Does(lvl) {
		return
	}
	data := append(l.fields(), normalize(kv)...)
	e := Event{Lvl: lvl, Name: l.name, Msg: msg, Data: data, Time: time.Now()}
	_ = l.handler().Log(e)
}

func (l *Logger) ALERT(msg string, kv ...interface{})  { l.Log(ALERT, msg, kv...) }
func (l *Logger) CRIT(msg string, kv ...interface{})   { l.Log(CRIT, msg, kv...) }
func (l *Logger) ERROR(msg string, kv ...interface{})  { l.Log(ERROR, msg, kv...) }
func (l *Logger) WARN(msg string, kv ...interface{})   { l.Log(WARN, msg, kv...) }
func (l *Logger) NOTICE(msg string, kv ...interface{}) { l.Log(NOTICE, msg, kv...) }
func (l *Logger) INFO(msg string, kv ...interface{})   { l.Log(INFO, msg, kv...) }
func (l *Logger) DEBUG(msg string, kv ...interface{})  { l.Log(DEBUG, msg, kv...) }
