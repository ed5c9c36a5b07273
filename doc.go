// Package drillstream ingests drilling-rig sensor telemetry from a message
// bus, stores every reading, raises incidents when a reading crosses its
// configured limits and pushes both to live WebSocket subscribers.
//
// # Architecture
//
// Messages flow through one pipeline. Each stage is a package:
//
//	┌─────────────────────────────────────┐
//	│         Bus source                  │  MQTT or NATS
//	│   (input/bus)                       │  reconnect, resubscribe
//	└─────────────────────────────────────┘
//	           ↓ topic, payload
//	┌─────────────────────────────────────┐
//	│         Ingest service              │  bounded worker pool
//	│   (processor/ingest, pkg/worker)    │  decode, persist
//	└─────────────────────────────────────┘
//	           ↓ reading
//	┌─────────────────────────────────────┐
//	│         Threshold evaluator         │  cached limits per tag
//	│   (threshold, pkg/cache)            │  above_max, below_min
//	└─────────────────────────────────────┘
//	           ↓ reading, incident
//	┌─────────────────────────────────────┐
//	│         Fan-out hub                 │  per-tag groups
//	│   (fanout, output/websocket)        │  incidents group
//	└─────────────────────────────────────┘
//
// Readings and incidents are written through storage.Store. The sqlstore
// package implements it for SQLite and PostgreSQL.
//
// # Topics
//
// Two topic shapes are accepted:
//
//	telemetry/<tag>                       payload {"value": ..., "timestamp": ...}
//	drill/<rig>/sensor/<tag>              same payload
//
// On NATS the slashes become dots (telemetry.<tag>). Anything else is
// counted and dropped.
//
// # Live protocol
//
// Clients connect to /ws/monitoring/ and exchange JSON frames. A client
// subscribes to tags, asks for the latest reading or the configured limits
// and receives sensor_update and incident_alert frames as they happen.
// Clients that cannot keep up are disconnected rather than slowing
// ingestion.
//
// # Operations
//
// The service exposes Prometheus metrics and an aggregated /healthz on the
// metrics address. Components report into a shared health.Monitor:
//
//	bus       connected or degraded
//	storage   degraded on the first failed write, unhealthy after a streak
//
// # Usage
//
//	# Validate a configuration file
//	./bin/drillstream --config configs/drillstream.yaml --validate
//
//	# Run
//	./bin/drillstream --config configs/drillstream.yaml
//
// Every file setting can be overridden with a DRILLSTREAM_ environment
// variable; see package config.
package drillstream
