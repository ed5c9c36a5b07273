package websocket

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Kent0008/breakers-nurik/fanout"
	"github.com/Kent0008/breakers-nurik/types"
)

func loadFrameSchema(t *testing.T) *gojsonschema.Schema {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", "frames.schema.json"))
	require.NoError(t, err)

	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(path)))
	require.NoError(t, err)
	return schema
}

// Every frame the server can emit must match the published frame schema.
func TestOutboundFramesMatchSchema(t *testing.T) {
	schema := loadFrameSchema(t)

	ts := time.Date(2024, 3, 1, 10, 15, 30, 250000000, time.UTC)
	lo, hi := decimal.RequireFromString("10"), decimal.RequireFromString("25.5")
	reading := &types.Reading{ID: 3, Tag: "WOB", Value: decimal.RequireFromString("12.125"), Timestamp: ts}
	incident := &types.Incident{
		ID:           9,
		Tag:          "WOB",
		Value:        decimal.RequireFromString("30"),
		ThresholdMin: decimal.NewNullDecimal(lo),
		ThresholdMax: decimal.NewNullDecimal(hi),
		Kind:         types.AboveMax,
		Timestamp:    ts,
	}

	sensorUpdate, err := encodeEvent(fanout.Event{Kind: fanout.SensorUpdate, Reading: reading})
	require.NoError(t, err)
	incidentAlert, err := encodeEvent(fanout.Event{Kind: fanout.IncidentAlert, Incident: incident})
	require.NoError(t, err)

	frames := map[string][]byte{
		"connection_established": mustMarshal(messageFrame{Type: frameConnectionEstablished, Message: "Connected"}),
		"error":                  mustMarshal(messageFrame{Type: frameError, Message: "Invalid JSON format"}),
		"subscribed":             mustMarshal(tagFrame{Type: frameSubscribed, Tag: "WOB"}),
		"unsubscribed":           mustMarshal(tagFrame{Type: frameUnsubscribed, Tag: "WOB"}),
		"latest_data":            mustMarshal(readingFrame{Type: frameLatestData, Tag: "WOB", Data: readingData(reading)}),
		"latest_data empty":      mustMarshal(readingFrame{Type: frameLatestData, Tag: "RPM", Data: readingData(nil)}),
		"thresholds": mustMarshal(thresholdsFrame{Type: frameThresholds, Data: thresholdData([]types.ThresholdLimit{
			types.NewLimit("WOB", &lo, &hi),
			types.NewLimit("SPP", nil, &hi),
		})}),
		"thresholds empty": mustMarshal(thresholdsFrame{Type: frameThresholds, Data: thresholdData(nil)}),
		"sensor_update":    sensorUpdate,
		"incident_alert":   incidentAlert,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			result, err := schema.Validate(gojsonschema.NewBytesLoader(frame))
			require.NoError(t, err)
			require.Truef(t, result.Valid(), "frame %s: %v", frame, result.Errors())
		})
	}
}

func TestFrameSchemaRejectsDrift(t *testing.T) {
	schema := loadFrameSchema(t)

	for name, frame := range map[string]string{
		"unknown type":     `{"type":"sensor_updated","tag":"WOB","data":null}`,
		"extra field":      `{"type":"subscribed","tag":"WOB","rig":"7"}`,
		"bad kind":         `{"type":"incident_alert","incident":{"id":1,"tag":"WOB","value":1,"threshold_min":null,"threshold_max":2,"violation_kind":"max_violation","timestamp":"2024-03-01T10:15:30+00:00"}}`,
		"naive timestamp":  `{"type":"sensor_update","tag":"WOB","data":{"tag":"WOB","value":1,"timestamp":"2024-03-01T10:15:30"}}`,
		"string threshold": `{"type":"thresholds","data":[{"tag":"WOB","min_value":"10","max_value":null}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := schema.Validate(gojsonschema.NewStringLoader(frame))
			require.NoError(t, err)
			require.False(t, result.Valid())
		})
	}
}
