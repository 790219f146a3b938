// Package errors provides coded, actionable errors for the pubsub-tail
// command.
//
// Each error has a code (e.g., "E101") that maps to a category, a short
// message and, where useful, a hint:
//   - E1xx: configuration (file, values, credentials)
//   - E2xx: connection and local listeners
//   - E3xx: publication archive
//
// # Usage
//
//	err := errors.New("E104").
//	    WithExample("pubsub-tail run --url wss://host/connection/websocket")
//
//	errors.PrintError(err)
//	// Output:
//	// ERROR E104: No endpoint URL configured
//	//
//	//   Hint: Set url in the config file or pass --url
//	//
//	//   Example:
//	//     pubsub-tail run --url wss://host/connection/websocket
package errors
