package gateway

import (
	"bytes"
	"strconv"
)

var byteEmptySlice = []byte("[]")

// MarshalJSON renders Flags as a JSON array of its bit positions, for the
// Discord fields whose wire format is an array rather than a bitmask.
func (f Flags) MarshalJSON() ([]byte, error) {
	if len(f) == 0 {
		return byteEmptySlice, nil
	}

	var out bytes.Buffer
	out.WriteByte('[')

	stop := len(f) - 1
	for i, flag := range f {
		out.WriteString(strconv.FormatUint(uint64(flag), 10))

		if i == stop {
			break
		}

		out.WriteByte(',')
	}

	out.WriteByte(']')

	return out.Bytes(), nil
}
