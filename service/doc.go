// Package service assembles and runs the drillstream process.
//
// A Runtime wires the store, threshold evaluator, fan-out hub, ingest
// pipeline, bus source, websocket server and ops server from a config.Config.
// Its Manager starts them so that consumers are ready before the bus delivers
// anything, and stops them in reverse: the bus goes first, queued readings
// drain, and the store closes last.
package service
