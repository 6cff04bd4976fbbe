package poollog

import "fmt"

// Lazy defers computing a loggable value until (and unless) the event it is
// attached to is actually emitted. Useful for values that are expensive to
// format, like a connection snapshot.
type Lazy func() interface{}

func bindLazy(kv []interface{}) {
	for i := 1; i < len(kv); i += 2 {
		if l, ok := kv[i].(Lazy); ok {
			kv[i] = l.evaluate()
		}
	}
}

func (l Lazy) evaluate() string {
	v := l()
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}
