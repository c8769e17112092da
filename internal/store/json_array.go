package store

import "encoding/json"

// encodeStrings marshals a string slice into its JSON-array text form for
// storage in a TEXT column. A nil slice encodes as "[]" so scanning never
// needs to special-case NULL for these columns.
func encodeStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil
	}
	return ss
}
