// ABOUTME: High-level wsdsp library API
// ABOUTME: Provides simple Client and Server APIs for most use cases
// Package wsdsp provides high-level APIs for the wsdsp signal processing service.
//
// This is the main entry point for most library users, providing:
//   - Client: Connect to a server and run processing pipelines
//   - Server: Serve the processor registry to many WebSocket sessions
//
// For lower-level control, see the protocol package.
//
// Example Client:
//
//	client, err := wsdsp.Dial(ctx, wsdsp.ClientConfig{
//	    ServerAddr: "localhost:8930",
//	})
//	cmd, _ := protocol.NewCommand(protocol.OpEcho, 0, nil)
//	msg, err := client.NewMessage([]protocol.Command{cmd}, []byte("hello"))
//	reply, err := client.Call(ctx, msg)
//
// Example Server:
//
//	server, err := wsdsp.NewServer(wsdsp.ServerConfig{
//	    Port: 8930,
//	})
//	err = server.Start()
package wsdsp
