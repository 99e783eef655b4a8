package wire

// Packet is one structured message in the judge protocol: a mapping
// from string keys to scalars or nested mappings. Numbers decode as
// float64 per encoding/json; the accessors below normalize them.
type Packet map[string]interface{}

// Name returns the packet kind, empty if absent.
func (p Packet) Name() string {
	return p.Str("name")
}

// SubmissionID returns the submission the packet refers to, 0 if absent.
func (p Packet) SubmissionID() int64 {
	return p.Int("submission-id")
}

// Str returns the string value for key, empty if absent or mistyped.
func (p Packet) Str(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the integer value for key, 0 if absent or mistyped.
func (p Packet) Int(key string) int64 {
	switch v := p[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// Float returns the float value for key, 0 if absent or mistyped.
func (p Packet) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool returns the boolean value for key, false if absent or mistyped.
func (p Packet) Bool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}
