package types

import "time"

// naive ISO-8601 layouts carry no zone and are read in the local zone
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses RFC 3339 timestamps and the zone-less ISO-8601 form
// the backend emits
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, naiveErr := time.ParseInLocation(layout, s, time.Local); naiveErr == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
