// ABOUTME: wsdsp command processor package
// ABOUTME: Processor interface, sample formats and the registry servers run pipelines with
// Package dsp implements the command processors of a wsdsp server.
//
// A Registry maps operation codes to Processors. Each command of a request
// receives the Buffer produced by the previous one, starting from the
// request data. Applications add operations of their own by registering a
// Processor under an unused code.
//
// Example:
//
//	registry := dsp.DefaultRegistry()
//	registry.MustRegister(100, dsp.ProcessorFunc(func(params []byte, in dsp.Buffer) (dsp.Buffer, error) {
//	    return dsp.Buffer{Data: bytes.ToUpper(in.Data)}, nil
//	}))
//	server, err := wsdsp.NewServer(wsdsp.ServerConfig{Registry: registry})
package dsp
