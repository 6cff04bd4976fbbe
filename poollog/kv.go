package poollog

// KV is a map of key/value pairs for structured logging. A value can be any
// stringable object, or a Lazy which is resolved only if the event is
// actually emitted.
type KV map[string]interface{}

const errorKey = "LOG_ERROR"

// normalize turns a vararg list of alternating keys and values into a
// well-formed even-length slice, padding with a diagnostic pair instead of
// erroring so that a logging call itself never needs error handling.
func normalize(ctx []interface{}) []interface{} {
	if ctx == nil {
		return nil
	}

	if len(ctx) == 1 {
		if m, ok := ctx[0].(KV); ok {
			ctx = m.toArray()
		}
	}

	if len(ctx)%2 != 0 {
		ctx = append(ctx, nil, errorKey, "normalized odd number of log arguments by adding nil")
	}

	return ctx
}

func (m KV) toArray() []interface{} {
	arr := make([]interface{}, len(m)*2)
	i := 0
	for k, v := range m {
		arr[i] = k
		arr[i+1] = v
		i += 2
	}
	return arr
}
