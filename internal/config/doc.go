// Package config provides configuration parsing for pubsub-tail.
//
// The configuration is a TOML file, by convention pubsub-tail.toml.
// Every key is optional except url; command-line flags override the file.
//
// # Configuration File Structure
//
//	url = "wss://example.com/connection/websocket"
//	token_env = "PUBSUB_TOKEN"
//	channels = ["news", "alerts"]
//	watchdog_timeout_ms = 15000
//	reconnect_delay_ms = 0
//
//	[metrics]
//	addr = ":9090"
//	namespace = "pubsub"
//
//	[archive]
//	bucket = "my-publications"
//	region = "eu-west-1"
//	prefix = "publications"
//
//	[log]
//	level = "info"
//	format = "json"
//
// # Usage
//
//	cfg, err := config.LoadFile("pubsub-tail.toml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	c, err := client.New(cfg.ClientConfig(logger, metrics))
package config
