// Package bus provides the telemetry message sources.
//
// A Source subscribes to every topic the topic package can decode and passes
// each message, untouched, to a Handler. Two transports are supported:
//
//   - MQTT, via paho, subscribing to "telemetry/#" and "drill/+/sensor/+"
//   - NATS, via natsclient, subscribing to "telemetry.>" and "drill.*.sensor.*"
//     with subjects rewritten to their slash-separated topic form
//
// The initial connection is retried with pkg/retry. After that the client
// libraries reconnect on their own; connection state is reported to a
// health.Monitor under the "bus" component and to the bus metrics.
package bus
