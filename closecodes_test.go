package gateway

import "testing"

func TestIsFatalCloseKnownCodes(t *testing.T) {
	cases := []struct {
		code  int
		fatal bool
	}{
		{FlagGatewayCloseEventCodeUnknownError, false},
		{FlagGatewayCloseEventCodeAuthenticationFailed, true},
		{FlagGatewayCloseEventCodeInvalidShard, true},
		{FlagGatewayCloseEventCodeShardingRequired, true},
		{FlagGatewayCloseEventCodeInvalidAPIVersion, true},
		{FlagGatewayCloseEventCodeInvalidIntents, true},
		{FlagGatewayCloseEventCodeDisallowedIntents, true},
		{FlagGatewayCloseEventCodeRateLimited, false},
		{FlagGatewayCloseEventCodeSessionTimedOut, false},
	}

	for _, tc := range cases {
		if got := isFatalClose(tc.code); got != tc.fatal {
			t.Errorf("isFatalClose(%d) = %v, want %v", tc.code, got, tc.fatal)
		}
	}
}

// TestIsFatalCloseUnknownCodeIsTransient verifies §7: codes absent from the
// table (including arbitrary transport-level closes) are treated as
// transient, never fatal.
func TestIsFatalCloseUnknownCodeIsTransient(t *testing.T) {
	if isFatalClose(1006) {
		t.Fatal("an unmapped close code must be treated as transient")
	}
}
