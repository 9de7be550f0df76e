package mavlink

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/infra/config"
)

type fakeBridge struct {
	submitted  []bridge.Command
	err        error
	heartbeats int
	snap       bridge.Snapshot
}

func (f *fakeBridge) Submit(_ context.Context, cmd bridge.Command) (bridge.Command, error) {
	f.submitted = append(f.submitted, cmd)
	return cmd, f.err
}

func (f *fakeBridge) PeerHeartbeat()             { f.heartbeats++ }
func (f *fakeBridge) Snapshot() bridge.Snapshot { return f.snap }

func newTestEndpoint() (*Endpoint, *fakeBridge) {
	e := New(config.MAVLinkConfig{SystemID: 1, ComponentID: 100}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fb := &fakeBridge{}
	e.Bind(fb)
	return e, fb
}

func drain(e *Endpoint) []message.Message {
	var out []message.Message
	for {
		select {
		case m := <-e.outbox:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("udps:0.0.0.0:14550")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointUDPServer{Address: "0.0.0.0:14550"}, ep)

	ep, err = ParseEndpoint("serial:/dev/ttyAMA0:57600")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointSerial{Device: "/dev/ttyAMA0", Baud: 57600}, ep)

	ep, err = ParseEndpoint("tcpc:10.0.0.1:5760")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointTCPClient{Address: "10.0.0.1:5760"}, ep)

	_, err = ParseEndpoint("serial:/dev/ttyAMA0")
	assert.Error(t, err)
	_, err = ParseEndpoint("pigeon:coop")
	assert.Error(t, err)
}

func TestHeartbeatFromPeerOnly(t *testing.T) {
	e, fb := newTestEndpoint()
	hb := &ardupilotmega.MessageHeartbeat{Type: ardupilotmega.MAV_TYPE_QUADROTOR}

	e.handleMessage(context.Background(), 1, 1, hb)
	e.handleMessage(context.Background(), 1, 100, hb)
	assert.Equal(t, 1, fb.heartbeats)
}

func TestCommandLongAcceptedWaitsForCompletion(t *testing.T) {
	e, fb := newTestEndpoint()

	e.handleMessage(context.Background(), 255, 190, &ardupilotmega.MessageCommandLong{
		TargetSystem: 1, TargetComponent: 100,
		Command: common.MAV_CMD_VIDEO_START_CAPTURE,
	})
	require.Len(t, fb.submitted, 1)
	assert.Empty(t, drain(e), "no ack until the camera answers")

	cmd := fb.submitted[0]
	assert.Equal(t, bridge.SourceMAVLink, cmd.Origin.Source)
	e.PublishCompletion(bridge.Completion{Command: cmd})

	msgs := drain(e)
	require.Len(t, msgs, 1)
	ack := msgs[0].(*ardupilotmega.MessageCommandAck)
	assert.Equal(t, common.MAV_CMD_VIDEO_START_CAPTURE, ack.Command)
	assert.Equal(t, ardupilotmega.MAV_RESULT_ACCEPTED, ack.Result)
	assert.Equal(t, uint8(255), ack.TargetSystem)
	assert.Equal(t, uint8(190), ack.TargetComponent)
}

func TestCommandLongRejectedImmediately(t *testing.T) {
	e, fb := newTestEndpoint()
	fb.err = &bridge.RejectedError{Op: "submit", Err: bridge.ErrBusy}

	e.handleMessage(context.Background(), 255, 190, &ardupilotmega.MessageCommandLong{
		Command: common.MAV_CMD_VIDEO_STOP_CAPTURE,
	})
	msgs := drain(e)
	require.Len(t, msgs, 1)
	assert.Equal(t, ardupilotmega.MAV_RESULT_TEMPORARILY_REJECTED, msgs[0].(*ardupilotmega.MessageCommandAck).Result)
}

func TestCommandLongUnsupported(t *testing.T) {
	e, fb := newTestEndpoint()

	e.handleMessage(context.Background(), 255, 190, &ardupilotmega.MessageCommandLong{
		Command: common.MAV_CMD_NAV_TAKEOFF,
	})
	assert.Empty(t, fb.submitted)
	msgs := drain(e)
	require.Len(t, msgs, 1)
	assert.Equal(t, ardupilotmega.MAV_RESULT_UNSUPPORTED, msgs[0].(*ardupilotmega.MessageCommandAck).Result)
}

func TestCommandForOtherComponentIgnored(t *testing.T) {
	e, fb := newTestEndpoint()

	e.handleMessage(context.Background(), 255, 190, &ardupilotmega.MessageCommandLong{
		TargetSystem: 1, TargetComponent: 1,
		Command: common.MAV_CMD_VIDEO_START_CAPTURE,
	})
	assert.Empty(t, fb.submitted)
	assert.Empty(t, drain(e))
}

func TestGoProSetRoundTrip(t *testing.T) {
	e, fb := newTestEndpoint()

	e.handleMessage(context.Background(), 1, 1, &ardupilotmega.MessageGoproSetRequest{
		CmdId: ardupilotmega.GOPRO_COMMAND_SHUTTER,
		Value: [4]uint8{1},
	})
	require.Len(t, fb.submitted, 1)

	e.PublishCompletion(bridge.Completion{Command: fb.submitted[0], Err: bridge.ErrTimeout})
	msgs := drain(e)
	require.Len(t, msgs, 1)
	resp := msgs[0].(*ardupilotmega.MessageGoproSetResponse)
	assert.Equal(t, ardupilotmega.GOPRO_COMMAND_SHUTTER, resp.CmdId)
	assert.Equal(t, ardupilotmega.GOPRO_REQUEST_FAILED, resp.Status)
}

func TestGoProGetAnsweredFromSnapshot(t *testing.T) {
	e, fb := newTestEndpoint()
	fb.snap = connectedSnapshot()

	e.handleMessage(context.Background(), 1, 1, &ardupilotmega.MessageGoproGetRequest{
		CmdId: ardupilotmega.GOPRO_COMMAND_BATTERY,
	})
	msgs := drain(e)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(77), msgs[0].(*ardupilotmega.MessageGoproGetResponse).Value[0])
	assert.Empty(t, fb.submitted)
}

func TestCompletionsFromOtherFrontEndsIgnored(t *testing.T) {
	e, _ := newTestEndpoint()
	e.PublishCompletion(bridge.Completion{Command: bridge.Command{Origin: bridge.Origin{Source: bridge.SourceControl}}})
	assert.Empty(t, drain(e))
}

func TestPublishStatusTracksRecordingStart(t *testing.T) {
	e, _ := newTestEndpoint()

	e.PublishStatus(bridge.CameraStatus{State: bridge.Connected, Recording: true}, true)
	first := e.recordingSince
	assert.False(t, first.IsZero())
	e.PublishStatus(bridge.CameraStatus{State: bridge.Connected, Recording: true, Battery: 50}, true)
	assert.Equal(t, first, e.recordingSince)

	e.PublishStatus(bridge.CameraStatus{State: bridge.Connected}, true)
	assert.True(t, e.recordingSince.IsZero())
	assert.Len(t, e.refresh, 1, "refresh signal coalesces")
}
