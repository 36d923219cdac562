// internal/data/parser.go
package data

import (
	"bytes"
	"fmt"
	"strconv"
)

// ProtocolError reports a device line that is not "<float>,<int>".
type ProtocolError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %q", e.Reason, e.Line)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ParseLine parses one device record without its line terminator.
// A trailing carriage return and blanks around either field are tolerated.
func ParseLine(line []byte) (deviceTS float64, count int64, err error) {
	raw := bytes.TrimRight(line, "\r")
	fields := bytes.Split(raw, []byte{','})
	if len(fields) != 2 {
		return 0, 0, &ProtocolError{Line: string(line), Reason: fmt.Sprintf("expected 2 fields, got %d", len(fields))}
	}

	tsField := string(bytes.TrimSpace(fields[0]))
	deviceTS, err = strconv.ParseFloat(tsField, 64)
	if err != nil {
		return 0, 0, &ProtocolError{Line: string(line), Reason: "bad device timestamp", Err: err}
	}

	countField := string(bytes.TrimSpace(fields[1]))
	count, err = strconv.ParseInt(countField, 10, 64)
	if err != nil {
		return 0, 0, &ProtocolError{Line: string(line), Reason: "bad count", Err: err}
	}
	return deviceTS, count, nil
}
