package guac

import (
	"strconv"
	"strings"
)

// Config drives the connect negotiation for one tunneled connection.
// Parameters maps requested negotiation parameter names to the caller
// supplied values used to build the connect instruction.
type Config struct {
	Protocol string
	Width    int
	Height   int
	DPI      int

	AudioMimetypes []string
	VideoMimetypes []string
	ImageMimetypes []string

	Parameters map[string]string
}

func (c *Config) applyDefaults() {
	if c.Width <= 0 {
		c.Width = 1024
	}
	if c.Height <= 0 {
		c.Height = 768
	}
	if c.DPI <= 0 {
		c.DPI = 96
	}
}

// Handshake runs the connection negotiation on top of the instruction
// framer, once per session before raw relay begins: it sends a select
// instruction naming the sub-protocol, waits for the args instruction
// listing the required parameter names, and answers with size, audio,
// video, image and connect. Only after that exchange does Receive begin
// forwarding instructions unmodified to the consumer callback. The
// exchange is entirely local to the framer; the rest of the relay never
// sees it.
type Handshake struct {
	config        Config
	send          func(Instruction) error
	onInstruction func(Instruction)
	parser        *Parser
	ready         bool
}

// NewHandshake creates a handshake that writes negotiation replies via
// send and delivers post-handshake instructions to onInstruction.
func NewHandshake(config Config, send func(Instruction) error, onInstruction func(Instruction)) *Handshake {
	config.applyDefaults()
	h := &Handshake{
		config:        config,
		send:          send,
		onInstruction: onInstruction,
	}
	h.parser = NewParser(h.handle)
	return h
}

// Start opens the negotiation by selecting the target sub-protocol.
func (h *Handshake) Start() error {
	return h.send(Instruction{Opcode: "select", Args: []string{h.config.Protocol}})
}

// Receive feeds a fragment of the tunneled stream through the framer.
func (h *Handshake) Receive(data []byte) error {
	return h.parser.Receive(data)
}

// Ready reports whether the negotiation has completed and instructions
// are flowing through unmodified.
func (h *Handshake) Ready() bool {
	return h.ready
}

func (h *Handshake) handle(inst Instruction) {
	if h.ready {
		if h.onInstruction != nil {
			h.onInstruction(inst)
		}
		return
	}
	// The first args instruction carries the required parameter names;
	// anything else before it is part of the negotiation preamble and
	// is not forwarded.
	if inst.Opcode != "args" {
		return
	}
	h.reply(inst.Args)
	h.ready = true
}

func (h *Handshake) reply(requested []string) {
	h.send(Instruction{Opcode: "size", Args: []string{
		strconv.Itoa(h.config.Width),
		strconv.Itoa(h.config.Height),
		strconv.Itoa(h.config.DPI),
	}})
	h.send(Instruction{Opcode: "audio", Args: h.config.AudioMimetypes})
	h.send(Instruction{Opcode: "video", Args: h.config.VideoMimetypes})
	h.send(Instruction{Opcode: "image", Args: h.config.ImageMimetypes})

	// connect's arguments mirror the requested names: version-tagged
	// names are echoed unchanged, everything else maps through the
	// caller-supplied parameter values.
	connectArgs := make([]string, len(requested))
	for i, name := range requested {
		if strings.HasPrefix(name, "VERSION_") {
			connectArgs[i] = name
			continue
		}
		connectArgs[i] = h.config.Parameters[name]
	}
	h.send(Instruction{Opcode: "connect", Args: connectArgs})
}
