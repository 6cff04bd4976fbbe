package poollog

// Handler receives log events. The final handler in a chain is a
// Formatter: it turns the Event into bytes and ships them somewhere
// instead of forwarding to another Handler.
type Handler interface {
	Log(e Event) error
}

type handlerFunc func(e Event) error

// HandlerFunc adapts a plain function to a Handler.
func HandlerFunc(fn func(e Event) error) Handler {
	return handlerFunc(fn)
}

func (h handlerFunc) Log(e Event) error { return h(e) }

// FilterHandler discards events for which fn returns false instead of
// forwarding them to h.
func FilterHandler(fn func(e Event) bool, h Handler) Handler {
	return HandlerFunc(func(e Event) error {
		if fn(e) {
			return h.Log(e)
		}
		return nil
	})
}

// LvlFilterHandler discards events less severe than maxLvl (i.e. with a
// numerically larger Level) before forwarding to h.
func LvlFilterHandler(maxLvl Level, h Handler) Handler {
	return FilterHandler(func(e Event) bool { return e.Lvl <= maxLvl }, h)
}

// MultiHandler fans an event out to several handlers. If more than one
// returns an error, the last one wins.
func MultiHandler(hs ...Handler) Handler {
	return HandlerFunc(func(e Event) error {
		var last error
		for _, h := range hs {
			if err := h.Log(e); err != nil {
				last = err
			}
		}
		return last
	})
}
