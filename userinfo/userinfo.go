// Package userinfo implements the backslash-delimited key/value wire
// format used opaquely by the connect handshake to describe client
// settings to the server.
package userinfo

import "strings"

// Info is a parsed userinfo string.
type Info map[string]string

// Parse decodes a "\key1\value1\key2\value2..." string. A string that is
// empty or does not begin with a backslash parses to an empty Info, per
// the wire format's requirement of a leading backslash.
func Parse(s string) Info {
	info := Info{}
	if !strings.HasPrefix(s, "\\") {
		return info
	}
	fields := strings.Split(s, "\\")[1:]
	for i := 0; i+1 < len(fields); i += 2 {
		info[fields[i]] = fields[i+1]
	}
	return info
}

// Format serializes Info back to the wire format. Key/value pairs must not
// themselves contain a backslash; Format does not escape one if present.
func (i Info) Format() string {
	var b strings.Builder
	for k, v := range i {
		b.WriteByte('\\')
		b.WriteString(k)
		b.WriteByte('\\')
		b.WriteString(v)
	}
	return b.String()
}
