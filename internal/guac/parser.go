// Package guac implements the instruction framing and handshake of the
// tunneled remote-desktop wire protocol. Instructions are encoded as one
// or more length-prefixed elements, "<length>.<element>", comma-joined
// and terminated by a semicolon, for example "4.size,4.1024,3.768;".
package guac

import (
	"errors"
	"strconv"
	"strings"

	"github.com/remote-access-relay/backend/internal/buffer"
)

// MaxBufferSize bounds the accumulating buffer. Input that never forms a
// complete instruction would otherwise grow the buffer without limit.
const MaxBufferSize = 1 << 20

// ErrBufferOverflow is returned when buffered, unconsumed input exceeds
// MaxBufferSize without yielding a complete instruction.
var ErrBufferOverflow = errors.New("instruction buffer overflow")

// Instruction is one framed unit of the tunneled protocol: an opcode and
// its arguments.
type Instruction struct {
	Opcode string
	Args   []string
}

// String encodes the instruction back to its wire form.
func (i Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(i.Opcode)))
	sb.WriteByte('.')
	sb.WriteString(i.Opcode)
	for _, arg := range i.Args {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(len(arg)))
		sb.WriteByte('.')
		sb.WriteString(arg)
	}
	sb.WriteByte(';')
	return sb.String()
}

// Parser converts a byte stream delivered as arbitrary message-sized
// fragments into a sequence of discrete instructions. Partially received
// data stays buffered untouched until a full instruction is confirmed.
type Parser struct {
	buf           *buffer.StreamBuffer
	onInstruction func(Instruction)
}

// NewParser creates a parser emitting complete instructions to the callback.
func NewParser(onInstruction func(Instruction)) *Parser {
	return &Parser{
		buf:           buffer.NewStreamBuffer(),
		onInstruction: onInstruction,
	}
}

// Receive appends a fragment and drains every complete instruction from
// the head of the buffer. Multiple instructions may arrive in one
// fragment; a trailing partial instruction waits for the next fragment.
func (p *Parser) Receive(data []byte) error {
	p.buf.Write(data)
	for {
		pending := p.buf.Bytes()
		if len(pending) == 0 {
			return nil
		}
		inst, consumed, ok := parseOne(pending)
		if !ok {
			if p.buf.Len() > MaxBufferSize {
				return ErrBufferOverflow
			}
			return nil
		}
		p.buf.Discard(consumed)
		if p.onInstruction != nil {
			p.onInstruction(inst)
		}
	}
}

// Buffered returns the number of bytes held back waiting for more data.
func (p *Parser) Buffered() int {
	return p.buf.Len()
}

// parseOne attempts to extract one complete instruction from the head of
// b. It returns ok=false whenever the buffer does not contain enough data
// to make a determination. Structurally surprising input (a length
// prefix not ending in a digit or '.', one exceeding MaxBufferSize, or
// an unexpected delimiter where ',' or ';' is required) is also treated
// as incomplete rather than as a parse error that would drop buffered
// bytes.
func parseOne(b []byte) (Instruction, int, bool) {
	var elements []string
	pos := 0
	for {
		// Read the decimal length prefix.
		start := pos
		for pos < len(b) && b[pos] >= '0' && b[pos] <= '9' {
			pos++
		}
		if pos == len(b) {
			return Instruction{}, 0, false
		}
		if pos == start || b[pos] != '.' {
			// No digits, or the prefix ended in something other
			// than '.'. Wait for more data.
			return Instruction{}, 0, false
		}
		length, err := strconv.Atoi(string(b[start:pos]))
		if err != nil || length > MaxBufferSize {
			// A declared length the buffer could never hold, or one too
			// large for Atoi, cannot complete. Holding the bytes also
			// keeps pos+length below overflow in the checks that follow.
			return Instruction{}, 0, false
		}
		pos++ // consume '.'

		if len(b) < pos+length+1 {
			return Instruction{}, 0, false
		}
		elements = append(elements, string(b[pos:pos+length]))
		pos += length

		switch b[pos] {
		case ',':
			pos++
		case ';':
			pos++
			return Instruction{Opcode: elements[0], Args: elements[1:]}, pos, true
		default:
			return Instruction{}, 0, false
		}
	}
}
