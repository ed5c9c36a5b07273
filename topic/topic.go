// Package topic maps telemetry bus topics to sensor tags.
//
// Two shapes are recognised:
//
//	telemetry/<tag>                        -> <tag>
//	drill/<equipment>/sensor/<sensor_type> -> <equipment>_<sensor_type>
//
// Anything else is rejected. Segments are used verbatim.
package topic

import "strings"

const (
	telemetryRoot = "telemetry"
	drillRoot     = "drill"
	sensorSegment = "sensor"
)

// Decode derives the sensor tag from an MQTT-style topic.
func Decode(topic string) (string, bool) {
	parts := strings.Split(topic, "/")

	switch {
	case len(parts) == 2 && parts[0] == telemetryRoot:
		if parts[1] == "" {
			return "", false
		}
		return parts[1], true

	case len(parts) == 4 && parts[0] == drillRoot && parts[2] == sensorSegment:
		if parts[1] == "" || parts[3] == "" {
			return "", false
		}
		return parts[1] + "_" + parts[3], true
	}

	return "", false
}

// Filters returns the MQTT subscription filters covering every decodable topic.
func Filters() []string {
	return []string{telemetryRoot + "/#", drillRoot + "/+/" + sensorSegment + "/+"}
}

// NATSSubjects returns the NATS equivalents of Filters.
func NATSSubjects() []string {
	return []string{telemetryRoot + ".>", drillRoot + ".*." + sensorSegment + ".*"}
}

// FromNATSSubject converts a NATS subject to the slash-separated form Decode expects.
func FromNATSSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
