package state

import (
	"bufio"
	"os"
	"strings"
)

// Field is one key=value line of a metadata record.
type Field struct {
	Key   string
	Value string
}

// ReadField returns the value for key in the record at path, or "" when
// the file or key is absent. It never fails: the caller sites treat a
// missing record and a missing key identically.
func ReadField(path, key string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ReadRecord returns all key=value pairs in the record at path. Absent
// files yield an empty map.
func ReadRecord(path string) map[string]string {
	out := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// EncodeRecord renders fields as key=value lines in the given order.
func EncodeRecord(fields []Field) []byte {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// WriteRecord atomically writes an ordered record to path.
func WriteRecord(path string, fields []Field) error {
	return AtomicWrite(path, EncodeRecord(fields))
}
