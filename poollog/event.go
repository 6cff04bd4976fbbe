package poollog

import "time"

// Event is a single log event. Handlers receive it by value; the exported
// fields are meant to be read, not mutated.
type Event struct {
	Lvl  Level
	Name string
	Msg  string
	Data []interface{}
	Time time.Time
}
