package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/switchupcb/websocket"
)

// CloseFrame optionally accompanies a Destroy control message, and is
// forwarded to the underlying WebSocket close handshake.
type CloseFrame struct {
	Code   websocket.StatusCode
	Reason string
}

// recoverKind tells destroy() what to do once the connection is torn down.
type recoverKind int

const (
	recoverNone recoverKind = iota
	recoverResume
	recoverReconnect
)

type shardControlKind int

const (
	ctrlConnect shardControlKind = iota
	ctrlDestroy
)

type shardControl struct {
	kind  shardControlKind
	frame *CloseFrame
}

type shardReplyKind int

const (
	replyConnected shardReplyKind = iota
	replyDestroyed
)

type shardReply struct {
	kind shardReplyKind
	err  error
}

// ShardOptions are the dependencies a Shard needs, shared across every Shard
// a Manager owns (§4.5's WorkerOptions).
type ShardOptions struct {
	Token          string
	Intents        int
	Properties     IdentifyConnectionProperties
	Presence       *UpdatePresence
	LargeThreshold int
	Capacity       *capacityCache
	Identify       *IdentifyQueue
	Handler        EventHandler
	Logger         zerolog.Logger
}

// Shard is a state machine that owns one WebSocket connection and drives the
// Discord gateway handshake, heartbeat, and dispatch loop for one ShardId
// (§4.3).
type Shard struct {
	id    int
	count int

	opts ShardOptions

	control chan shardControl
	reply   chan shardReply

	mu          sync.RWMutex
	state       ShardState
	session     *Session
	conn        *ShardConnection
	heartbeat   heartbeatTimer
	startedAt   time.Time
	lastLatency time.Duration

	log zerolog.Logger
}

// NewShard constructs a Shard in the Idle state. id is in [0, count).
func NewShard(id, count int, opts ShardOptions) *Shard {
	return &Shard{
		id:        id,
		count:     count,
		opts:      opts,
		control:   make(chan shardControl, 1),
		reply:     make(chan shardReply, 1),
		state:     Idle,
		heartbeat: idleHeartbeatTimer(),
		log:       opts.Logger.With().Int(LogCtxShard, id).Logger(),
	}
}

// ID returns this shard's ShardId.
func (s *Shard) ID() int { return s.id }

// State returns the shard's current state.
func (s *Shard) State() ShardState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Latency returns the most recently observed heartbeat round-trip time.
func (s *Shard) Latency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastLatency
}

// Run drives the shard's event loop until ctx is canceled or a Destroy
// control message is processed (§4.3 event_loop).
func (s *Shard) Run(ctx context.Context) {
	for {
		s.mu.RLock()
		connected := s.conn != nil
		s.mu.RUnlock()

		if !connected {
			select {
			case msg := <-s.control:
				if s.handleControl(ctx, msg) {
					return
				}
			case <-ctx.Done():
				return
			}

			continue
		}

		select {
		case msg := <-s.control:
			if s.handleControl(ctx, msg) {
				return
			}

			continue
		default:
		}

		s.serviceHeartbeat(ctx)
		s.pollConnection(ctx)
	}
}

func (s *Shard) handleControl(ctx context.Context, msg shardControl) (exit bool) {
	switch msg.kind {
	case ctrlConnect:
		err := s.connect(ctx)
		s.reply <- shardReply{kind: replyConnected, err: err}

		return false

	case ctrlDestroy:
		err := s.destroy(ctx, msg.frame)
		s.reply <- shardReply{kind: replyDestroyed, err: err}

		return true

	default:
		return false
	}
}

// pollConnection services one receive cycle, routing the result through
// resolveEvent/resolveError.
func (s *Shard) pollConnection(ctx context.Context) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return
	}

	inbound, err := conn.recvNext(ctx, recvBudget)
	if err != nil {
		s.resolveError(ctx, err)

		return
	}

	if inbound != nil {
		s.resolveEvent(ctx, inbound)
	}
}

// serviceHeartbeat emits a heartbeat if one is due, and recovers a zombied
// connection — one that missed its ack before the next heartbeat came due
// (§3, §8 scenario C) — by destroying and resuming.
func (s *Shard) serviceHeartbeat(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	conn := s.conn
	zombied := conn != nil && s.heartbeat.zombied(now)
	due := conn != nil && !zombied && s.heartbeat.due(now)
	s.mu.Unlock()

	if zombied {
		s.log.Warn().Msg("connection zombied: missed heartbeat ack, resuming")
		s.opts.Handler.Debug(s.id, "connection zombied: missed heartbeat ack, resuming")

		if _, err := s.destroyAndRecover(ctx, recoverResume); err != nil {
			s.resolveError(ctx, err)
		}

		return
	}

	if !due {
		return
	}

	s.sendHeartbeat(ctx)
}

func (s *Shard) sendHeartbeat(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn

	var seq *int64
	if s.session != nil {
		seqv := s.session.Sequence
		seq = &seqv
	}

	s.mu.Unlock()

	if conn == nil {
		return
	}

	payload, err := encodeOutbound(FlagGatewayOpcodeHeartbeat, seq)
	if err != nil {
		decodeErr := &DecodeError{ShardID: s.id, Op: FlagGatewayOpcodeHeartbeat, Err: err}
		s.opts.Handler.ShardError(s.id, decodeErr)
		s.log.Error().Err(decodeErr).Msg("encode heartbeat")

		return
	}

	if err := conn.send(ctx, payload); err != nil {
		s.resolveError(ctx, err)

		return
	}

	s.mu.Lock()
	s.heartbeat.sent(time.Now())
	s.mu.Unlock()

	s.opts.Handler.Debug(s.id, fmt.Sprintf("sent heartbeat (seq=%v)", seq))
	LogCommand(s.log.Debug(), FlagGatewayOpcodeHeartbeat, FlagGatewayCommandNameHeartbeat).Msg("sent heartbeat")
}

// errShardNotConnected is returned by the command senders below when the
// shard has no active connection to write to.
var errShardNotConnected = errors.New("shard: no active connection")

// sendCommand marshals and sends an arbitrary outbound command, mirroring
// sendHeartbeat's lock/marshal/send shape.
func (s *Shard) sendCommand(ctx context.Context, op int, name string, data any) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return &TransportError{ShardID: s.id, Op: "write", Err: errShardNotConnected}
	}

	payload, err := encodeOutbound(op, data)
	if err != nil {
		return &DecodeError{ShardID: s.id, Op: op, Err: err}
	}

	if err := conn.send(ctx, payload); err != nil {
		return err
	}

	LogCommand(s.log.Debug(), op, name).Msg("sent command")

	return nil
}

// RequestGuildMembers sends a RequestGuildMembers command over the shard's
// active connection (§3, opcode 8).
func (s *Shard) RequestGuildMembers(ctx context.Context, req RequestGuildMembers) error {
	return s.sendCommand(ctx, FlagGatewayOpcodeRequestGuildMembers, FlagGatewayCommandNameRequestGuildMembers, req)
}

// UpdateVoiceState sends a VoiceStateUpdate command over the shard's active
// connection (§3, opcode 4).
func (s *Shard) UpdateVoiceState(ctx context.Context, update VoiceStateUpdate) error {
	return s.sendCommand(ctx, FlagGatewayOpcodeVoiceStateUpdate, FlagGatewayCommandNameVoiceStateUpdate, update)
}

// UpdatePresence sends a PresenceUpdate command over the shard's active
// connection (§3, opcode 3).
func (s *Shard) UpdatePresence(ctx context.Context, presence UpdatePresence) error {
	return s.sendCommand(ctx, FlagGatewayOpcodePresenceUpdate, FlagGatewayCommandNamePresenceUpdate, presence)
}

// connect implements §4.3's connect() operation.
func (s *Shard) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		state := s.state
		s.mu.Unlock()

		return &NotIdleError{ShardID: s.id, State: state}
	}

	s.state = Connecting
	s.startedAt = time.Now()
	session := s.session
	s.mu.Unlock()

	url, err := s.dialTarget(session)
	if err != nil {
		return err
	}

	conn, err := openConnection(ctx, url)
	if err != nil {
		return &TransportError{ShardID: s.id, Op: "dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	hello, err := s.awaitHello(ctx, conn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.heartbeat.onHello(hello.IntervalMS)
	s.mu.Unlock()

	if session == nil {
		if err := s.opts.Identify.AwaitSlot(ctx); err != nil {
			return err
		}

		return s.sendIdentify(ctx, conn)
	}

	return s.sendResume(ctx, conn, session)
}

// dialTarget resolves the URL to dial: the per-session resume URL when a
// Session is present, otherwise the capacity URL (§4.3 step 3).
func (s *Shard) dialTarget(session *Session) (string, error) {
	if session != nil && session.ResumeGatewayURL != "" {
		return session.ResumeGatewayURL + gatewayEndpointParams, nil
	}

	url, err := s.opts.Capacity.url()
	if err != nil {
		return "", err
	}

	return url + gatewayEndpointParams, nil
}

// awaitHello receives frames until HELLO arrives (§4.3 step 4).
func (s *Shard) awaitHello(ctx context.Context, conn *ShardConnection) (InboundHello, error) {
	for {
		inbound, err := conn.recvNext(ctx, recvBudget)
		if err != nil {
			return InboundHello{}, err
		}

		if inbound == nil {
			continue
		}

		hello, ok := inbound.(InboundHello)
		if !ok {
			s.opts.Handler.Debug(s.id, "discarding frame received before HELLO")
			s.log.Debug().Msg("discarding frame received before HELLO")

			continue
		}

		return hello, nil
	}
}

func (s *Shard) sendIdentify(ctx context.Context, conn *ShardConnection) error {
	identify := Identify{
		Token:          s.opts.Token,
		Properties:     s.opts.Properties,
		LargeThreshold: s.opts.LargeThreshold,
		Shard:          &[2]int{s.id, s.count},
		Presence:       s.opts.Presence,
		Intents:        s.opts.Intents,
	}

	payload, err := encodeOutbound(FlagGatewayOpcodeIdentify, identify)
	if err != nil {
		return &DecodeError{ShardID: s.id, Op: FlagGatewayOpcodeIdentify, Err: err}
	}

	if err := conn.send(ctx, payload); err != nil {
		return err
	}

	LogCommand(s.log.Debug(), FlagGatewayOpcodeIdentify, FlagGatewayCommandNameIdentify).Msg("sent identify")

	return nil
}

func (s *Shard) sendResume(ctx context.Context, conn *ShardConnection, session *Session) error {
	resume := Resume{
		Token:     s.opts.Token,
		SessionID: session.ID,
		Seq:       session.Sequence,
	}

	payload, err := encodeOutbound(FlagGatewayOpcodeResume, resume)
	if err != nil {
		return &DecodeError{ShardID: s.id, Op: FlagGatewayOpcodeResume, Err: err}
	}

	if err := conn.send(ctx, payload); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = Resuming
	s.mu.Unlock()

	LogCommand(s.log.Debug(), FlagGatewayOpcodeResume, FlagGatewayCommandNameResume).Msg("sent resume")

	return nil
}

// resolveEvent implements §4.3's resolve_event.
func (s *Shard) resolveEvent(ctx context.Context, inbound Inbound) {
	switch event := inbound.(type) {
	case InboundHello:
		s.mu.Lock()
		s.heartbeat.onHello(event.IntervalMS)
		s.mu.Unlock()

	case InboundHeartbeatRequest:
		s.sendHeartbeat(ctx)

	case InboundHeartbeatAck:
		s.mu.Lock()
		latency := s.heartbeat.ack(time.Now())
		s.lastLatency = latency
		s.mu.Unlock()

		s.opts.Handler.Debug(s.id, fmt.Sprintf("heartbeat ack latency=%s", latency))
		s.log.Debug().Dur("latency", latency).Msg("heartbeat ack")

	case InboundInvalidSession:
		s.mu.RLock()
		hasSession := s.session != nil
		s.mu.RUnlock()

		if event.Resumable && hasSession {
			if err := s.resume(ctx); err != nil {
				s.resolveError(ctx, err)
			}
		} else if _, err := s.destroyAndRecover(ctx, recoverReconnect); err != nil {
			s.resolveError(ctx, err)
		}

	case InboundReconnect:
		if _, err := s.destroyAndRecover(ctx, recoverResume); err != nil {
			s.resolveError(ctx, err)
		}

	case InboundDispatch:
		s.resolveDispatch(event)

	case InboundUnknown:
		s.opts.Handler.Debug(s.id, fmt.Sprintf("unknown opcode %d", event.Op))
		LogPayload(s.log.Debug(), event.Op, event.Raw).Msg("unknown opcode")
	}
}

func (s *Shard) resolveDispatch(event InboundDispatch) {
	switch event.EventName {
	case FlagGatewayEventNameReady:
		var data ReadyEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			decodeErr := &DecodeError{ShardID: s.id, Op: FlagGatewayOpcodeDispatch, Err: err}
			s.opts.Handler.ShardError(s.id, decodeErr)
			s.log.Error().Err(decodeErr).Msg("decode ready")

			return
		}

		s.mu.Lock()
		if s.session == nil {
			s.session = &Session{
				ID:               data.SessionID,
				ResumeGatewayURL: data.ResumeGatewayURL,
				Sequence:         event.Seq,
				ShardID:          s.id,
				ShardCount:       s.count,
			}
		}
		s.state = Ready
		s.mu.Unlock()

		s.opts.Handler.Ready(s.id, &data)
		LogSession(s.log.Info(), data.SessionID).Msg("ready")

	case FlagGatewayEventNameResumed:
		s.mu.Lock()
		s.state = Ready
		s.mu.Unlock()

		s.opts.Handler.Resumed(s.id)
		s.log.Info().Msg("resumed")
	}

	s.mu.Lock()
	if s.session != nil && event.Seq > s.session.Sequence {
		s.session.Sequence = event.Seq
	}
	s.mu.Unlock()

	s.opts.Handler.Dispatch(s.id, event.EventName, event.Data)
}

// resume implements §4.3's resume().
func (s *Shard) resume(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	session := s.session
	s.mu.RUnlock()

	if conn == nil || session == nil {
		return s.connect(ctx)
	}

	return s.sendResume(ctx, conn, session)
}

// destroy implements §4.3's destroy(recover) for the supervisor-initiated
// path: no automatic reconnect, optionally carrying a close frame.
func (s *Shard) destroy(ctx context.Context, frame *CloseFrame) error {
	_, err := s.destroyInternal(ctx, recoverNone, frame)

	return err
}

// destroyAndRecover is destroy(recover) for the internally-triggered
// recovery paths (zombie heartbeat, InvalidSession, Reconnect), which never
// carry an explicit close frame.
func (s *Shard) destroyAndRecover(ctx context.Context, recover recoverKind) (reconnected bool, err error) {
	return s.destroyInternal(ctx, recover, nil)
}

// destroyInternal tears the connection down and, if recover != recoverNone,
// immediately calls connect() again (§4.3).
func (s *Shard) destroyInternal(ctx context.Context, recover recoverKind, frame *CloseFrame) (reconnected bool, err error) {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()

		return false, nil
	}

	conn := s.conn
	s.conn = nil
	s.heartbeat = idleHeartbeatTimer()
	s.state = Idle

	if recover == recoverReconnect {
		s.session = nil
	}
	s.mu.Unlock()

	if conn != nil {
		code := websocket.StatusCode(FlagClientCloseEventCodeAway)
		reason := ""

		if frame != nil {
			code = frame.Code
			reason = frame.Reason
		}

		_ = conn.close(code, reason)
	}

	if recover == recoverNone {
		return false, nil
	}

	if err := s.connect(ctx); err != nil {
		return false, err
	}

	return true, nil
}

// resolveError routes a transport/decode/closed error to the event handler
// and, for non-fatal closes, attempts an automatic resume (§7).
func (s *Shard) resolveError(ctx context.Context, err error) {
	s.opts.Handler.ShardError(s.id, err)
	s.log.Error().Err(err).Msg("shard error")

	closedErr := new(ClosedError)
	if errors.As(err, &closedErr) && isFatalClose(closedErr.Code) {
		s.log.Error().Int(LogCtxCloseCode, closedErr.Code).Msg("fatal close, not reconnecting")
		_, _ = s.destroyAndRecover(ctx, recoverNone)

		return
	}

	if _, err := s.destroyAndRecover(ctx, recoverResume); err != nil {
		s.opts.Handler.ShardError(s.id, err)
		s.log.Error().Err(err).Msg("resume after error failed")
	}
}
