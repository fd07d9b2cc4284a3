package dispatch

import "fmt"

// Result is the terminal outcome of a request. Values are the ATT error codes
// reported back to the central.
type Result byte

const (
	Success                     Result = 0x00
	ReadNotPermitted            Result = 0x02
	WriteNotPermitted           Result = 0x03
	InvalidOffset               Result = 0x07
	AttributeNotFound           Result = 0x0a
	InvalidAttributeValueLength Result = 0x0d
)

// ATT returns the status byte for the link layer.
func (r Result) ATT() byte { return byte(r) }

// OK reports whether r is Success.
func (r Result) OK() bool { return r == Success }

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case ReadNotPermitted:
		return "ReadNotPermitted"
	case WriteNotPermitted:
		return "WriteNotPermitted"
	case InvalidOffset:
		return "InvalidOffset"
	case AttributeNotFound:
		return "AttributeNotFound"
	case InvalidAttributeValueLength:
		return "InvalidAttributeValueLength"
	default:
		return fmt.Sprintf("Result(0x%02x)", byte(r))
	}
}
