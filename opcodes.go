package gateway

// Gateway Opcodes.
//
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-gateway-opcodes
const (
	FlagGatewayOpcodeDispatch            = 0
	FlagGatewayOpcodeHeartbeat           = 1
	FlagGatewayOpcodeIdentify            = 2
	FlagGatewayOpcodePresenceUpdate      = 3
	FlagGatewayOpcodeVoiceStateUpdate    = 4
	FlagGatewayOpcodeResume              = 6
	FlagGatewayOpcodeReconnect           = 7
	FlagGatewayOpcodeRequestGuildMembers = 8
	FlagGatewayOpcodeInvalidSession      = 9
	FlagGatewayOpcodeHello               = 10
	FlagGatewayOpcodeHeartbeatACK        = 11
)

// Gateway Command Names, used as structured-log fields (LogCtxCommandName).
const (
	FlagGatewayCommandNameIdentify            = "Identify"
	FlagGatewayCommandNameResume              = "Resume"
	FlagGatewayCommandNameHeartbeat           = "Heartbeat"
	FlagGatewayCommandNameRequestGuildMembers = "RequestGuildMembers"
	FlagGatewayCommandNameVoiceStateUpdate    = "VoiceStateUpdate"
	FlagGatewayCommandNamePresenceUpdate      = "PresenceUpdate"
)

// Gateway Event Names, used as structured-log fields (LogCtxEvent) and to
// classify a Dispatch payload's "t" field.
const (
	FlagGatewayEventNameHello   = "HELLO"
	FlagGatewayEventNameReady   = "READY"
	FlagGatewayEventNameResumed = "RESUMED"
)

// Client-initiated WebSocket close codes. 1000 and 1001 are RFC 6455 codes;
// the rest are Discord-specific conventions used to signal intent to the peer.
const (
	FlagClientCloseEventCodeNormal    = 1000
	FlagClientCloseEventCodeAway      = 1001
	FlagClientCloseEventCodeReconnect = 3000
)
