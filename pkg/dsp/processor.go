// ABOUTME: Command processors and the pipeline that runs them
// ABOUTME: Maps operation codes to processors and applies a request's commands in order
package dsp

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/faintsignals/wsdsp/pkg/protocol"
)

var (
	ErrUnknownOperation = errors.New("dsp: unknown operation")
	ErrInvalidParams    = errors.New("dsp: invalid parameters")
	ErrInvalidInput     = errors.New("dsp: invalid input data")
)

// Processor transforms the buffer produced by the previous command.
type Processor interface {
	Process(params []byte, in Buffer) (Buffer, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(params []byte, in Buffer) (Buffer, error)

func (f ProcessorFunc) Process(params []byte, in Buffer) (Buffer, error) {
	return f(params, in)
}

// Registry maps operations to processors.
type Registry struct {
	mu    sync.RWMutex
	procs map[protocol.Operation]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[protocol.Operation]Processor)}
}

// DefaultRegistry returns a registry with echo, FFT, FIR filter and base64
// decoding registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(protocol.OpEcho, ProcessorFunc(Echo))
	r.MustRegister(protocol.OpFFT, ProcessorFunc(FFT))
	r.MustRegister(protocol.OpFIRFilter, ProcessorFunc(FIRFilter))
	r.MustRegister(protocol.OpBase64Decode, ProcessorFunc(Base64Decode))
	return r
}

// Register binds p to op, replacing any previous processor.
func (r *Registry) Register(op protocol.Operation, p Processor) error {
	if op == 0 {
		return fmt.Errorf("%w: operation 0 is reserved", protocol.ErrInvalidArgument)
	}
	if p == nil {
		return fmt.Errorf("%w: processor is required", protocol.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[op] = p
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(op protocol.Operation, p Processor) {
	if err := r.Register(op, p); err != nil {
		panic(err)
	}
}

// Lookup returns the processor bound to op.
func (r *Registry) Lookup(op protocol.Operation) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[op]
	return p, ok
}

// Operations lists the registered operations in ascending order.
func (r *Registry) Operations() []protocol.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]protocol.Operation, 0, len(r.procs))
	for op := range r.procs {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// Run applies msg's commands in order, feeding each command the output of
// the previous one, and builds the binary response. An envelope without
// commands echoes its data.
func (r *Registry) Run(msg *protocol.Message) (protocol.Response, error) {
	if msg == nil {
		return protocol.Response{}, fmt.Errorf("%w: message is required", protocol.ErrInvalidArgument)
	}

	buf := Buffer{Data: msg.Data, Format: FormatRaw}
	for i, cmd := range msg.Commands {
		p, ok := r.Lookup(cmd.Operation)
		if !ok {
			return protocol.Response{}, fmt.Errorf("command %d: %w: %s", i, ErrUnknownOperation, cmd.Operation)
		}
		out, err := p.Process(cmd.Params, buf)
		if err != nil {
			return protocol.Response{}, fmt.Errorf("command %d (%s): %w", i, cmd.Operation, err)
		}
		buf = out
	}

	return protocol.Response{
		Version: protocol.DefaultVersion,
		ID:      msg.ID,
		Data:    buf.Data,
	}, nil
}
