// Package websocket serves the live monitoring endpoint.
//
// Each accepted connection is a fanout.Subscriber. Clients send JSON commands:
//
//	{"type": "subscribe_sensor", "tag": "DEPTH"}
//	{"type": "unsubscribe_sensor", "tag": "DEPTH"}
//	{"type": "get_latest_data", "tag": "DEPTH"}
//	{"type": "get_thresholds"}
//
// and receive connection_established, subscribed, unsubscribed, latest_data,
// thresholds, sensor_update, incident_alert and error frames. Frames that are
// not a JSON object get an error reply; unknown commands and commands without
// a tag are ignored.
//
// All writes for a connection go through one goroutine, so frames reach a
// client in the order they were enqueued.
package websocket
