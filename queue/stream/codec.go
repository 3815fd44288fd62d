package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeFields converts an application field map to the value map the Redis
// client expects for XADD.
func EncodeFields(fields map[string]string) map[string]any {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return values
}

// DecodeValues converts a record's values back to string fields. Values the
// client did not hand back as strings are formatted with fmt.
func DecodeValues(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case []byte:
			fields[k] = string(val)
		case nil:
			fields[k] = ""
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return fields
}

// ID is a parsed "<milliseconds>-<sequence>" entry id.
type ID struct {
	Ms  uint64
	Seq uint64
}

// ParseID parses an entry id as assigned by the store.
func ParseID(s string) (ID, error) {
	msPart, seqPart, ok := strings.Cut(s, "-")
	if !ok {
		seqPart = "0"
	}
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid entry id %q: %w", s, err)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid entry id %q: %w", s, err)
	}
	return ID{Ms: ms, Seq: seq}, nil
}

func (id ID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or +1 following append order.
func (id ID) Compare(other ID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// CompareIDs orders two entry ids. Unparseable ids fall back to string order.
func CompareIDs(a, b string) int {
	ia, errA := ParseID(a)
	ib, errB := ParseID(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return ia.Compare(ib)
}
