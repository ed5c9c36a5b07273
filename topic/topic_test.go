package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		topic string
		tag   string
		ok    bool
	}{
		{"telemetry/WOB", "WOB", true},
		{"telemetry/hookload", "hookload", true},
		{"drill/rig1/sensor/rpm", "rig1_rpm", true},
		{"drill/pump-2/sensor/SPP", "pump-2_SPP", true},

		{"telemetry/", "", false},
		{"telemetry", "", false},
		{"telemetry/a/b", "", false},
		{"drill/rig1/sensor", "", false},
		{"drill/rig1/gauge/rpm", "", false},
		{"drill//sensor/rpm", "", false},
		{"drill/rig1/sensor/", "", false},
		{"drill/rig1/sensor/rpm/extra", "", false},
		{"other/x", "", false},
		{"Telemetry/WOB", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			tag, ok := Decode(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.tag, tag)
		})
	}
}

func TestDecode_NoNormalization(t *testing.T) {
	tag, ok := Decode("telemetry/ WOB ")
	assert.True(t, ok)
	assert.Equal(t, " WOB ", tag)
}

func TestFiltersAndSubjects(t *testing.T) {
	assert.Equal(t, []string{"telemetry/#", "drill/+/sensor/+"}, Filters())
	assert.Equal(t, []string{"telemetry.>", "drill.*.sensor.*"}, NATSSubjects())
}

func TestFromNATSSubject(t *testing.T) {
	tag, ok := Decode(FromNATSSubject("drill.rig1.sensor.rpm"))
	assert.True(t, ok)
	assert.Equal(t, "rig1_rpm", tag)

	tag, ok = Decode(FromNATSSubject("telemetry.WOB"))
	assert.True(t, ok)
	assert.Equal(t, "WOB", tag)
}
