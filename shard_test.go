package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/switchupcb/websocket"

	"github.com/shardkit/gateway/internal/socket"
)

// recordingHandler implements EventHandler and records every callback for
// assertions.
type recordingHandler struct {
	mu          sync.Mutex
	ready       []*ReadyEventData
	resumed     []int
	dispatch    []string
	errors      []error
	readyOnce   chan struct{}
	resumedOnce chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		readyOnce:   make(chan struct{}, 1),
		resumedOnce: make(chan struct{}, 1),
	}
}

func (h *recordingHandler) Debug(int, string) {}

func (h *recordingHandler) ShardError(_ int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errors = append(h.errors, err)
}

func (h *recordingHandler) Dispatch(_ int, eventName string, _ json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dispatch = append(h.dispatch, eventName)
}

func (h *recordingHandler) Ready(_ int, data *ReadyEventData) {
	h.mu.Lock()
	h.ready = append(h.ready, data)
	h.mu.Unlock()

	select {
	case h.readyOnce <- struct{}{}:
	default:
	}
}

func (h *recordingHandler) Resumed(shardID int) {
	h.mu.Lock()
	h.resumed = append(h.resumed, shardID)
	h.mu.Unlock()

	select {
	case h.resumedOnce <- struct{}{}:
	default:
	}
}

// newFakeGatewayServer runs a scripted server implementing Scenario A
// (§8): HELLO, then expect Identify, then reply READY.
func newFakeGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		hello := &GatewayPayload{Op: FlagGatewayOpcodeHello, Data: mustMarshal(t, Hello{HeartbeatIntervalMS: 45000})}
		if err := socket.Write(ctx, conn, hello); err != nil {
			return
		}

		var identify GatewayPayload
		if err := socket.Read(ctx, conn, &identify); err != nil {
			return
		}

		if identify.Op != FlagGatewayOpcodeIdentify {
			t.Errorf("expected Identify opcode, got %d", identify.Op)
		}

		ready := ReadyEventData{
			Version:          10,
			SessionID:        "S",
			ResumeGatewayURL: "ws://unused",
			Application:      ApplicationReference{ID: "app"},
		}

		readyPayload := &GatewayPayload{
			Op:   FlagGatewayOpcodeDispatch,
			Seq:  1,
			Type: FlagGatewayEventNameReady,
			Data: mustMarshal(t, ready),
		}

		_ = socket.Write(ctx, conn, readyPayload)

		<-ctx.Done()
	}))
}

// newZombieRecoveryServer scripts Scenario C (§8): the first connection
// completes HELLO/Identify/READY but never acks a heartbeat, and the second
// connection (reached after the client destroys and resumes) expects a
// Resume and replies RESUMED.
func newZombieRecoveryServer(t *testing.T, heartbeatIntervalMS int64) *httptest.Server {
	t.Helper()

	var connCount int32

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		hello := &GatewayPayload{Op: FlagGatewayOpcodeHello, Data: mustMarshal(t, Hello{HeartbeatIntervalMS: heartbeatIntervalMS})}
		if err := socket.Write(ctx, conn, hello); err != nil {
			return
		}

		if atomic.AddInt32(&connCount, 1) == 1 {
			var identify GatewayPayload
			if err := socket.Read(ctx, conn, &identify); err != nil {
				return
			}

			if identify.Op != FlagGatewayOpcodeIdentify {
				t.Errorf("expected Identify opcode, got %d", identify.Op)
			}

			ready := ReadyEventData{
				Version:          10,
				SessionID:        "S",
				ResumeGatewayURL: server.URL,
				Application:      ApplicationReference{ID: "app"},
			}

			readyPayload := &GatewayPayload{
				Op:   FlagGatewayOpcodeDispatch,
				Seq:  1,
				Type: FlagGatewayEventNameReady,
				Data: mustMarshal(t, ready),
			}

			if err := socket.Write(ctx, conn, readyPayload); err != nil {
				return
			}

			// Consume the client's heartbeat and never ack it, so the
			// client's zombie check eventually fires.
			var heartbeat GatewayPayload
			_ = socket.Read(ctx, conn, &heartbeat)

			<-ctx.Done()

			return
		}

		var resume GatewayPayload
		if err := socket.Read(ctx, conn, &resume); err != nil {
			return
		}

		if resume.Op != FlagGatewayOpcodeResume {
			t.Errorf("expected Resume opcode, got %d", resume.Op)
		}

		resumedPayload := &GatewayPayload{
			Op:   FlagGatewayOpcodeDispatch,
			Seq:  2,
			Type: FlagGatewayEventNameResumed,
			Data: mustMarshal(t, struct{}{}),
		}

		_ = socket.Write(ctx, conn, resumedPayload)

		<-ctx.Done()
	}))

	return server
}

// newCommandCaptureServer completes the handshake with an arbitrarily large
// heartbeat interval (so no heartbeat interferes), then forwards the next
// frame it receives onto captured for the test to inspect.
func newCommandCaptureServer(t *testing.T, captured chan<- *GatewayPayload) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		hello := &GatewayPayload{Op: FlagGatewayOpcodeHello, Data: mustMarshal(t, Hello{HeartbeatIntervalMS: 45000})}
		if err := socket.Write(ctx, conn, hello); err != nil {
			return
		}

		var identify GatewayPayload
		if err := socket.Read(ctx, conn, &identify); err != nil {
			return
		}

		ready := ReadyEventData{
			Version:          10,
			SessionID:        "S",
			ResumeGatewayURL: "ws://unused",
			Application:      ApplicationReference{ID: "app"},
		}

		readyPayload := &GatewayPayload{
			Op:   FlagGatewayOpcodeDispatch,
			Seq:  1,
			Type: FlagGatewayEventNameReady,
			Data: mustMarshal(t, ready),
		}

		if err := socket.Write(ctx, conn, readyPayload); err != nil {
			return
		}

		var command GatewayPayload
		if err := socket.Read(ctx, conn, &command); err != nil {
			return
		}

		captured <- &command

		<-ctx.Done()
	}))
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return data
}

// TestShardScenarioACleanIdentify drives §8 Scenario A end to end against a
// scripted fake gateway server.
func TestShardScenarioACleanIdentify(t *testing.T) {
	server := newFakeGatewayServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	cache := &capacityCache{cached: &GatewayCapacity{URL: wsURL, SessionStartLimit: SessionStartLimit{ResetAfter: time.Hour}}}

	handler := newRecordingHandler()
	shard := NewShard(0, 1, ShardOptions{
		Token:    "token",
		Intents:  0,
		Capacity: cache,
		Identify: NewIdentifyQueue(1),
		Handler:  handler,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go shard.Run(ctx)

	shard.control <- shardControl{kind: ctrlConnect}

	select {
	case reply := <-shard.reply:
		if reply.err != nil {
			t.Fatalf("connect: %v", reply.err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for connect reply")
	}

	select {
	case <-handler.readyOnce:
	case <-ctx.Done():
		t.Fatal("timed out waiting for ready callback")
	}

	if shard.State() != Ready {
		t.Fatalf("expected state Ready, got %s", shard.State())
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()

	if len(handler.ready) != 1 || handler.ready[0].SessionID != "S" {
		t.Fatalf("expected one ready callback with session S, got %+v", handler.ready)
	}
}

// TestShardScenarioCZombieRecovery drives §8 Scenario C end to end: a
// connection that stops acking heartbeats is detected as zombied and the
// shard recovers by destroying and resuming on a fresh connection.
func TestShardScenarioCZombieRecovery(t *testing.T) {
	server := newZombieRecoveryServer(t, 150)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	cache := &capacityCache{cached: &GatewayCapacity{URL: wsURL, SessionStartLimit: SessionStartLimit{ResetAfter: time.Hour}}}

	handler := newRecordingHandler()
	shard := NewShard(0, 1, ShardOptions{
		Token:    "token",
		Intents:  0,
		Capacity: cache,
		Identify: NewIdentifyQueue(1),
		Handler:  handler,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go shard.Run(ctx)

	shard.control <- shardControl{kind: ctrlConnect}

	select {
	case reply := <-shard.reply:
		if reply.err != nil {
			t.Fatalf("connect: %v", reply.err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for connect reply")
	}

	select {
	case <-handler.readyOnce:
	case <-ctx.Done():
		t.Fatal("timed out waiting for ready callback")
	}

	select {
	case <-handler.resumedOnce:
	case <-ctx.Done():
		t.Fatal("timed out waiting for resumed callback after zombie recovery")
	}

	if shard.State() != Ready {
		t.Fatalf("expected state Ready after resume, got %s", shard.State())
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()

	if len(handler.resumed) != 1 {
		t.Fatalf("expected exactly one resumed callback, got %d", len(handler.resumed))
	}
}

// TestShardCommandSenders round-trips each public command sender through a
// live connection and verifies the opcode and payload the gateway receives.
func TestShardCommandSenders(t *testing.T) {
	channelID := "c"

	cases := []struct {
		name   string
		send   func(ctx context.Context, s *Shard) error
		wantOp int
		check  func(t *testing.T, data json.RawMessage)
	}{
		{
			name: "RequestGuildMembers",
			send: func(ctx context.Context, s *Shard) error {
				return s.RequestGuildMembers(ctx, RequestGuildMembers{GuildID: "g", Limit: 0})
			},
			wantOp: FlagGatewayOpcodeRequestGuildMembers,
			check: func(t *testing.T, data json.RawMessage) {
				var req RequestGuildMembers
				if err := json.Unmarshal(data, &req); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}

				if req.GuildID != "g" {
					t.Fatalf("expected guild_id g, got %q", req.GuildID)
				}
			},
		},
		{
			name: "UpdateVoiceState",
			send: func(ctx context.Context, s *Shard) error {
				return s.UpdateVoiceState(ctx, VoiceStateUpdate{GuildID: "g", ChannelID: &channelID, SelfMute: true})
			},
			wantOp: FlagGatewayOpcodeVoiceStateUpdate,
			check: func(t *testing.T, data json.RawMessage) {
				var update VoiceStateUpdate
				if err := json.Unmarshal(data, &update); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}

				if update.ChannelID == nil || *update.ChannelID != channelID || !update.SelfMute {
					t.Fatalf("unexpected voice state update: %+v", update)
				}
			},
		},
		{
			name: "UpdatePresence",
			send: func(ctx context.Context, s *Shard) error {
				return s.UpdatePresence(ctx, UpdatePresence{Status: "online", Activities: []Activity{{Name: "a", Type: 0}}})
			},
			wantOp: FlagGatewayOpcodePresenceUpdate,
			check: func(t *testing.T, data json.RawMessage) {
				var presence UpdatePresence
				if err := json.Unmarshal(data, &presence); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}

				if presence.Status != "online" || len(presence.Activities) != 1 {
					t.Fatalf("unexpected presence update: %+v", presence)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			captured := make(chan *GatewayPayload, 1)
			server := newCommandCaptureServer(t, captured)
			defer server.Close()

			wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
			cache := &capacityCache{cached: &GatewayCapacity{URL: wsURL, SessionStartLimit: SessionStartLimit{ResetAfter: time.Hour}}}

			handler := newRecordingHandler()
			shard := NewShard(0, 1, ShardOptions{
				Token:    "token",
				Capacity: cache,
				Identify: NewIdentifyQueue(1),
				Handler:  handler,
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			go shard.Run(ctx)

			shard.control <- shardControl{kind: ctrlConnect}

			select {
			case reply := <-shard.reply:
				if reply.err != nil {
					t.Fatalf("connect: %v", reply.err)
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for connect reply")
			}

			select {
			case <-handler.readyOnce:
			case <-ctx.Done():
				t.Fatal("timed out waiting for ready callback")
			}

			if err := tc.send(ctx, shard); err != nil {
				t.Fatalf("send: %v", err)
			}

			select {
			case payload := <-captured:
				if payload.Op != tc.wantOp {
					t.Fatalf("expected opcode %d, got %d", tc.wantOp, payload.Op)
				}

				tc.check(t, payload.Data)
			case <-ctx.Done():
				t.Fatal("timed out waiting for the gateway to receive the command")
			}
		})
	}
}

// TestShardCommandSendersRequireConnection verifies each sender fails with
// errShardNotConnected when the shard has no active connection.
func TestShardCommandSendersRequireConnection(t *testing.T) {
	shard := NewShard(0, 1, ShardOptions{Handler: newRecordingHandler()})
	ctx := context.Background()

	if err := shard.RequestGuildMembers(ctx, RequestGuildMembers{GuildID: "g"}); !errors.Is(err, errShardNotConnected) {
		t.Fatalf("RequestGuildMembers: expected errShardNotConnected, got %v", err)
	}

	if err := shard.UpdateVoiceState(ctx, VoiceStateUpdate{GuildID: "g"}); !errors.Is(err, errShardNotConnected) {
		t.Fatalf("UpdateVoiceState: expected errShardNotConnected, got %v", err)
	}

	if err := shard.UpdatePresence(ctx, UpdatePresence{Status: "online"}); !errors.Is(err, errShardNotConnected) {
		t.Fatalf("UpdatePresence: expected errShardNotConnected, got %v", err)
	}
}

// TestShardDestroyIdempotence verifies invariant 6: destroy on an Idle shard
// is a no-op and never fails.
func TestShardDestroyIdempotence(t *testing.T) {
	shard := NewShard(0, 1, ShardOptions{Handler: newRecordingHandler()})

	if err := shard.destroy(context.Background(), nil); err != nil {
		t.Fatalf("first destroy: %v", err)
	}

	if err := shard.destroy(context.Background(), nil); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
}

// TestShardStateInvariants verifies invariant 3.
func TestShardStateInvariants(t *testing.T) {
	shard := NewShard(0, 1, ShardOptions{Handler: newRecordingHandler()})

	if shard.State() != Idle {
		t.Fatalf("new shard should be Idle, got %s", shard.State())
	}

	if shard.heartbeat.intervalMS != -1 {
		t.Fatalf("Idle shard must have interval_ms == -1, got %d", shard.heartbeat.intervalMS)
	}

	shard.mu.Lock()
	shard.state = Ready
	shard.conn = &ShardConnection{}
	shard.session = &Session{ID: "S"}
	shard.heartbeat.intervalMS = 45000
	shard.mu.Unlock()

	if shard.State() != Ready {
		t.Fatalf("expected Ready")
	}
}

// TestShardSequenceMonotone verifies invariant 2: session.sequence tracks
// the maximum observed "s" field across dispatches.
func TestShardSequenceMonotone(t *testing.T) {
	handler := newRecordingHandler()
	shard := NewShard(0, 1, ShardOptions{Handler: handler})

	shard.mu.Lock()
	shard.session = &Session{ID: "S", Sequence: 0}
	shard.mu.Unlock()

	for _, seq := range []int64{1, 5, 3, 9, 2} {
		shard.resolveDispatch(InboundDispatch{Seq: seq, EventName: "MESSAGE_CREATE", Data: json.RawMessage(`{}`)})
	}

	shard.mu.RLock()
	got := shard.session.Sequence
	shard.mu.RUnlock()

	if got != 9 {
		t.Fatalf("expected sequence 9 (max observed), got %d", got)
	}
}
