package packet

import "bytes"

// CommandSize is the size of the node-side command buffer. The last byte is
// always reserved for the NUL terminator.
const CommandSize = 8

// Known actuator directives. The codec passes any other text through.
const (
	CommandOn  = "ON"
	CommandOff = "OFF"
)

// Command is a fixed-size, NUL-terminated actuator directive.
type Command struct {
	buf [CommandSize]byte
	n   int // text length, excluding the terminator
}

// EncodeCommand copies text into a command buffer, truncating it to
// CommandSize-1 bytes. Text is cut at an embedded NUL, matching how the
// firmware compares it.
func EncodeCommand(text []byte) Command {
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}

	var c Command
	c.n = copy(c.buf[:CommandSize-1], text)
	return c
}

// Bytes returns the on-air bytes: the text followed by one NUL.
func (c Command) Bytes() []byte {
	out := make([]byte, c.n+1)
	copy(out, c.buf[:c.n+1])
	return out
}

// Text returns the directive without its terminator.
func (c Command) Text() string {
	return string(c.buf[:c.n])
}

// String implements fmt.Stringer.
func (c Command) String() string {
	return c.Text()
}

// Truncated reports whether encoding dropped bytes from the original text.
func Truncated(text []byte) bool {
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return len(text) > CommandSize-1
}

// DecodeCommand reads a command as a node does: up to CommandSize bytes,
// stopping at the first NUL.
func DecodeCommand(b []byte) string {
	if len(b) > CommandSize {
		b = b[:CommandSize]
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
