package gateway

import "fmt"

// NotIdleError is returned when a Shard that is not Idle receives a Connect
// control message.
//
// It is never produced by a background recovery path — only as the reply to
// a caller's Connect request (e.g. via Bucket.connect) on an
// already-connecting or already-ready shard.
type NotIdleError struct {
	ShardID int
	State   ShardState
}

func (e *NotIdleError) Error() string {
	return fmt.Sprintf("shard %d: cannot connect while in state %s", e.ShardID, e.State)
}

// TransportError wraps a failure from the underlying WebSocket connection,
// either while sending or receiving a frame.
type TransportError struct {
	ShardID int
	Op      string // "read", "write", "dial"
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("shard %d: transport %s: %v", e.ShardID, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClosedError indicates the peer closed the WebSocket connection.
//
// Code and Reason are populated when the close frame carried them; Code is
// zero when the connection dropped without a close frame at all.
type ClosedError struct {
	ShardID int
	Code    int
	Reason  string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("shard %d: connection closed (code %d): %s", e.ShardID, e.Code, e.Reason)
}

// DecodeError wraps a failure to encode an outbound command or to decode a
// READY dispatch's data.
//
// A READY decode failure is reported to the handler and that frame is
// dropped; the shard keeps running. Frames that fail to decode on receive are
// not wrapped in DecodeError: they reach resolveError like any other receive
// error, which tears the connection down and resumes (a malformed HELLO
// instead fails connect()).
type DecodeError struct {
	ShardID int
	Op      int
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("shard %d: decode op %d: %v", e.ShardID, e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RequestError wraps a failure from the REST collaborator (§6 of the spec).
type RequestError struct {
	Endpoint string
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NotEnoughSessionsRemainingError is returned by Manager.Connect when the
// session-start limit cannot cover the shard count the gateway recommends.
type NotEnoughSessionsRemainingError struct {
	Remaining int
	Shards    int
}

func (e *NotEnoughSessionsRemainingError) Error() string {
	return fmt.Sprintf(
		"not enough sessions remaining: have %d, need %d",
		e.Remaining, e.Shards,
	)
}

// ManagerError wraps an error surfaced by a Bucket or Shard up through the Manager.
type ManagerError struct {
	Action string
	Err    error
}

func (e *ManagerError) Error() string {
	return fmt.Sprintf("manager: %s: %v", e.Action, e.Err)
}

func (e *ManagerError) Unwrap() error { return e.Err }
