// Package client keeps a connection to a Centrifugo-compatible pub/sub
// server alive over WebSocket.
//
// # Structure
//
//   - Client: public handle. Owns the hooks and the command id counter.
//   - Supervisor: runs one Session after another, forever.
//   - Session: one connection attempt, from DNS lookup to close.
//   - Watchdog: tears a Session down after WatchdogTimeout of silence.
//   - Dispatcher: splits received messages into frames and routes replies.
//
// # Session Lifecycle
//
//	Created → Resolving → Connecting → SecureHandshaking → ProtocolHandshaking
//	        → Ready → Closing → Closed
//
// Errored is reachable from every non-terminal state. A Session is never
// reused; the Supervisor builds a new one with the next id.
//
// # Concurrency
//
// Each Session reads on one goroutine with a single read outstanding, so
// replies arrive in wire order. Data writes share a write mutex; pings and
// pongs share a separate ping mutex. The watchdog runs on its own goroutine
// and only reads the activity timestamp.
//
// # Usage Example
//
//	cfg := client.DefaultConfig().WithURL("wss://example.com/connection/websocket")
//	c, err := client.New(cfg,
//	    client.WithToken(func() string { return os.Getenv("TOKEN") }),
//	    client.OnConnect(func(c *client.Client, _ *protocol.ConnectResult) {
//	        c.Subscribe("news")
//	    }),
//	    client.OnPublication(func(channel string, data []byte) {
//	        log.Printf("%s: %s", channel, data)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	c.Run(ctx)
package client
