// Package signals dispatches OS signals to arbitrary actions, and offers a
// context-based shortcut for the common case of just wanting to know when
// to shut down.
package signals

import (
	"context"
	"os"
	"os/signal"
	"reflect"
)

// Action is a function called when an OS signal is received.
type Action func()

// Mappings map OS signals to functions.
type Mappings map[os.Signal]Action

// signalHandler allocates a 1-buffered channel per signal and selects over
// all of them at once. reflect.Select is what makes a dynamic number of
// signals selectable without generated code; it returns once stop is
// closed so the goroutine it runs in doesn't outlive its caller.
func signalHandler(mappings Mappings, stop <-chan struct{}) {
	cases := make([]reflect.SelectCase, len(mappings)+1)
	actions := make([]Action, len(mappings))

	idx := 0
	for sig, action := range mappings {
		sigch := make(chan os.Signal, 1)

		cases[idx].Dir = reflect.SelectRecv
		cases[idx].Chan = reflect.ValueOf(sigch)

		actions[idx] = action

		signal.Notify(sigch, sig)
		idx++
	}
	cases[idx].Dir = reflect.SelectRecv
	cases[idx].Chan = reflect.ValueOf(stop)

	for {
		chosen, _, _ := reflect.Select(cases)
		if chosen == len(actions) {
			return
		}
		actions[chosen]()
	}
}

// RunSignalHandler spawns a goroutine which calls the provided Actions
// when receiving the corresponding signals, until the returned stop
// function is called.
func RunSignalHandler(m Mappings) (stop func()) {
	done := make(chan struct{})
	go signalHandler(m, done)
	var closed bool
	return func() {
		if !closed {
			closed = true
			close(done)
		}
	}
}

// ShutdownContext returns a context that's cancelled the first time one of
// sigs arrives, and a cancel function that releases the signal hook. It's
// a thin wrapper over signal.NotifyContext for callers who just need a
// cancellation signal rather than a full Mappings dispatch table.
func ShutdownContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, sigs...)
}
