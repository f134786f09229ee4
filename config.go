package gateway

import "runtime"

// libraryIdentifier is sent as the browser/os identification string in
// every Identify payload, the way the teacher's session.go identifies
// itself with its module path and version (§6).
const libraryIdentifier = "shardkit/0.1.0"

// Config is the caller-supplied configuration a Manager and every Shard it
// owns is built from (§6).
type Config struct {
	// Token is the bot token sent in the Authorization header of REST calls
	// and the Identify payload's "token" field. Required.
	Token string

	// Intents is the gateway intents bitfield sent with Identify.
	Intents int

	// ShardCount is not read by NewManager or Manager. The shard count
	// override is the shardCount argument of Manager.Connect, where zero
	// means "use GET /gateway/bot's shards field".
	ShardCount int

	// Presence, if non-nil, is sent with every Identify.
	Presence *UpdatePresence

	// Properties overrides the client identification sent with Identify;
	// the zero value falls back to DefaultIdentifyConnectionProperties().
	Properties IdentifyConnectionProperties

	// LargeThreshold is the member-count threshold above which Discord
	// will not send offline members in the guild create event.
	LargeThreshold int
}

// DefaultIdentifyConnectionProperties returns the library's default
// connection properties: browser and os identify the library itself
// (§6), device defaults to the host OS name.
func DefaultIdentifyConnectionProperties() IdentifyConnectionProperties {
	return IdentifyConnectionProperties{
		OS:      libraryIdentifier,
		Browser: libraryIdentifier,
		Device:  runtime.GOOS,
	}
}

func (c Config) properties() IdentifyConnectionProperties {
	if c.Properties == (IdentifyConnectionProperties{}) {
		return DefaultIdentifyConnectionProperties()
	}

	return c.Properties
}
