package poolconfig

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration lets pool sizing knobs be written as "10s" in JSON or TOML
// config files instead of raw nanosecond counts.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts either a quoted duration string ("10s") or a bare
// integer number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	if len(b) > 0 && b[0] == '"' {
		sd := string(b[1 : len(b)-1])
		d.Duration, err = time.ParseDuration(sd)
		return
	}

	var id int64
	id, err = json.Number(string(b)).Int64()
	d.Duration = time.Duration(id)
	return
}

// MarshalJSON renders the duration the way time.Duration.String does.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, d.String())), nil
}

// UnmarshalText lets go-toml and mapstructure's string hooks decode a
// Duration field without any JSON involved.
func (d *Duration) UnmarshalText(b []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(b))
	return
}

// MarshalText is the encoding/TextUnmarshaler counterpart of UnmarshalText.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
