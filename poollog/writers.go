package poollog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// syncWriter serializes writes to an underlying io.Writer so concurrent
// Logger calls don't interleave partial lines.
type syncWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// SyncWriter wraps w so only one Write happens at a time.
func SyncWriter(w io.Writer) io.Writer {
	return &syncWriter{out: w}
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(b)
}

// TextFormatter renders events as "LEVEL name: msg key=val key=val" lines.
func TextFormatter(w io.Writer) Handler {
	out := SyncWriter(w)
	return HandlerFunc(func(e Event) error {
		var b strings.Builder
		fmt.Fprintf(&b, "%-6s", e.Lvl)
		if e.Name != "" {
			fmt.Fprintf(&b, " %s:", e.Name)
		}
		fmt.Fprintf(&b, " %s", e.Msg)

		data := append([]interface{}(nil), e.Data...)
		bindLazy(data)
		for i := 0; i+1 < len(data); i += 2 {
			fmt.Fprintf(&b, " %v=%v", data[i], data[i+1])
		}
		b.WriteByte('\n')
		_, err := out.Write([]byte(b.String()))
		return err
	})
}

// JSONFormatter renders events as one JSON object per line.
func JSONFormatter(w io.Writer) Handler {
	out := SyncWriter(w)
	return HandlerFunc(func(e Event) error {
		data := append([]interface{}(nil), e.Data...)
		bindLazy(data)

		rec := make(map[string]interface{}, 4+len(data)/2)
		rec["level"] = e.Lvl.String()
		rec["name"] = e.Name
		rec["msg"] = e.Msg
		rec["ts"] = e.Time

		for i := 0; i+1 < len(data); i += 2 {
			if k, ok := data[i].(string); ok {
				rec[k] = data[i+1]
			}
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		_, err = out.Write(b)
		return err
	})
}
