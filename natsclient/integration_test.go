package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	SkipUnlessIntegration(t)

	tc := NewTestClient(t, WithFastStartup())
	assert.True(t, tc.IsReady())
	assert.NotNil(t, tc.GetNativeConnection())

	status := tc.Client.GetStatus()
	assert.Equal(t, StatusConnected, status.Status)
	assert.Greater(t, status.RTT, time.Duration(0))
}

func TestIntegration_WildcardSubscribeReceivesSubject(t *testing.T) {
	SkipUnlessIntegration(t)

	tc := NewTestClient(t, WithFastStartup())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type msg struct {
		subject string
		data    string
	}
	var mu sync.Mutex
	var got []msg
	done := make(chan struct{}, 2)

	require.NoError(t, tc.Client.Subscribe(ctx, "drill.*.sensor.*", func(_ context.Context, subject string, data []byte) {
		mu.Lock()
		got = append(got, msg{subject, string(data)})
		mu.Unlock()
		done <- struct{}{}
	}))
	assert.Equal(t, 1, tc.Client.GetStatus().Subscriptions)

	require.NoError(t, tc.Client.Publish(ctx, "drill.rig7.sensor.pressure", []byte(`{"value": 1}`)))
	require.NoError(t, tc.Client.Publish(ctx, "drill.rig7.pump.pressure", []byte(`{"value": 2}`)))
	require.NoError(t, tc.Client.Publish(ctx, "drill.rig8.sensor.rpm", []byte(`{"value": 3}`)))
	require.NoError(t, tc.Client.Flush(ctx))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("timeout waiting for messages")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []msg{
		{"drill.rig7.sensor.pressure", `{"value": 1}`},
		{"drill.rig8.sensor.rpm", `{"value": 3}`},
	}, got)
}

func TestIntegration_CloseReportsHealth(t *testing.T) {
	SkipUnlessIntegration(t)

	tc := NewTestClient(t, WithFastStartup())

	changes := make(chan bool, 4)
	tc.Client.OnHealthChange(func(healthy bool) { changes <- healthy })

	require.NoError(t, tc.Client.Close(context.Background()))
	assert.Equal(t, StatusDisconnected, tc.Client.Status())

	select {
	case healthy := <-changes:
		assert.False(t, healthy)
	case <-time.After(2 * time.Second):
		t.Fatal("no health change reported on close")
	}
}
