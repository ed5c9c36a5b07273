package websocket

import (
	"encoding/json"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/fanout"
	"github.com/Kent0008/breakers-nurik/pkg/timestamp"
	"github.com/Kent0008/breakers-nurik/types"
)

// CommandKind is the closed set of inbound commands.
type CommandKind int

// Inbound commands
const (
	CommandUnknown CommandKind = iota
	CommandSubscribeSensor
	CommandUnsubscribeSensor
	CommandGetLatestData
	CommandGetThresholds
)

var commandKinds = map[string]CommandKind{
	"subscribe_sensor":   CommandSubscribeSensor,
	"unsubscribe_sensor": CommandUnsubscribeSensor,
	"get_latest_data":    CommandGetLatestData,
	"get_thresholds":     CommandGetThresholds,
}

// Command is one decoded inbound frame. Tag is empty when the frame carried
// no usable tag.
type Command struct {
	Kind CommandKind
	Type string
	Tag  string
}

// ParseCommand decodes an inbound frame. Only frames that are not a JSON
// object are errors; an unknown type or a non-string tag yields a command the
// caller ignores.
func ParseCommand(data []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Command{}, errors.WrapInvalid(errors.ErrMalformedFrame, "websocket", "ParseCommand", "decode frame")
	}

	var cmd Command
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &cmd.Type)
	}
	if raw, ok := fields["tag"]; ok {
		_ = json.Unmarshal(raw, &cmd.Tag)
	}
	cmd.Kind = commandKinds[cmd.Type]
	return cmd, nil
}

// Outbound frame types
const (
	frameConnectionEstablished = "connection_established"
	frameSubscribed            = "subscribed"
	frameUnsubscribed          = "unsubscribed"
	frameLatestData            = "latest_data"
	frameThresholds            = "thresholds"
	frameSensorUpdate          = "sensor_update"
	frameIncidentAlert         = "incident_alert"
	frameError                 = "error"
)

type messageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type tagFrame struct {
	Type string `json:"type"`
	Tag  string `json:"tag"`
}

// ReadingData is the wire form of a reading.
type ReadingData struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Tag       string  `json:"tag"`
}

type readingFrame struct {
	Type string       `json:"type"`
	Tag  string       `json:"tag"`
	Data *ReadingData `json:"data"`
}

// ThresholdData is the wire form of a threshold limit.
type ThresholdData struct {
	Tag      string   `json:"tag"`
	MinValue *float64 `json:"min_value"`
	MaxValue *float64 `json:"max_value"`
}

type thresholdsFrame struct {
	Type string          `json:"type"`
	Data []ThresholdData `json:"data"`
}

// IncidentData is the wire form of an incident.
type IncidentData struct {
	ID            int64    `json:"id"`
	Tag           string   `json:"tag"`
	Value         float64  `json:"value"`
	ThresholdMin  *float64 `json:"threshold_min"`
	ThresholdMax  *float64 `json:"threshold_max"`
	ViolationKind string   `json:"violation_kind"`
	Timestamp     string   `json:"timestamp"`
}

type incidentFrame struct {
	Type     string        `json:"type"`
	Incident *IncidentData `json:"incident"`
}

func optionalFloat(v types.ThresholdLimit, lower bool) *float64 {
	d := v.Max
	if lower {
		d = v.Min
	}
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

func readingData(r *types.Reading) *ReadingData {
	if r == nil {
		return nil
	}
	return &ReadingData{
		Timestamp: timestamp.Format(r.Timestamp),
		Value:     r.Value.InexactFloat64(),
		Tag:       r.Tag,
	}
}

func incidentData(inc *types.Incident) *IncidentData {
	limit := types.ThresholdLimit{Min: inc.ThresholdMin, Max: inc.ThresholdMax}
	return &IncidentData{
		ID:            inc.ID,
		Tag:           inc.Tag,
		Value:         inc.Value.InexactFloat64(),
		ThresholdMin:  optionalFloat(limit, true),
		ThresholdMax:  optionalFloat(limit, false),
		ViolationKind: string(inc.Kind),
		Timestamp:     timestamp.Format(inc.Timestamp),
	}
}

func thresholdData(limits []types.ThresholdLimit) []ThresholdData {
	out := make([]ThresholdData, 0, len(limits))
	for _, l := range limits {
		out = append(out, ThresholdData{
			Tag:      l.Tag,
			MinValue: optionalFloat(l, true),
			MaxValue: optionalFloat(l, false),
		})
	}
	return out
}

// encodeEvent renders a fan-out event as an outbound frame.
func encodeEvent(ev fanout.Event) ([]byte, error) {
	switch ev.Kind {
	case fanout.SensorUpdate:
		if ev.Reading == nil {
			break
		}
		return json.Marshal(readingFrame{Type: frameSensorUpdate, Tag: ev.Reading.Tag, Data: readingData(ev.Reading)})
	case fanout.IncidentAlert:
		if ev.Incident == nil {
			break
		}
		return json.Marshal(incidentFrame{Type: frameIncidentAlert, Incident: incidentData(ev.Incident)})
	}
	return nil, errors.WrapInvalid(errors.ErrInvalidPayload, "websocket", "encodeEvent", "encode "+string(ev.Kind))
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// only fixed frame structs reach here
		panic(err)
	}
	return data
}
