// Package ingest turns bus messages into readings, incidents and live events.
//
// For each message the Pipeline decodes the topic into a tag, parses the JSON
// payload, persists the reading, publishes a sensor_update, evaluates the
// tag's threshold and, on violation, persists and publishes an incident.
// Nothing is retried: a message that cannot be decoded or stored is logged,
// counted and dropped. Service runs the pipeline on a bounded worker pool.
package ingest
