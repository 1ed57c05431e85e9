// ABOUTME: wsdsp wire protocol package
// ABOUTME: Binary envelope codec, text envelopes and the reply correlator
// Package protocol implements the wsdsp request/response protocol.
//
// Requests travel either as JSON text frames ({"id", "message"}) or as
// little-endian binary envelopes (version, id, commands, data). Replies are
// matched to requests by correlation id in a Client, which hands each reply
// to the Handler registered for it.
//
// Example:
//
//	client, err := protocol.NewClient(transport, protocol.ClientConfig{})
//	cmd, _ := protocol.NewCommand(protocol.OpEcho, 0, nil)
//	msg, _ := protocol.NewMessage(protocol.DefaultVersion, 42, []protocol.Command{cmd}, data)
//	ticket, err := client.SendBinary(msg, protocol.HandlerFunc(func(r protocol.Reply) {
//	    fmt.Printf("reply %d: %x\n", r.ID, r.Data)
//	}))
package protocol
