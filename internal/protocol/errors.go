package protocol

import "strings"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownOp       = "E_UNKNOWN_OP"

	// Authority/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPath        = "E_NO_PATH"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrBlocked       = "E_BLOCKED"
	ErrStale         = "E_STALE"
	ErrBusy          = "E_BUSY"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnknownOp:       {},
	ErrBadRequest:      {},
	ErrNoPath:          {},
	ErrNoResource:      {},
	ErrInvalidTarget:   {},
	ErrBlocked:         {},
	ErrStale:           {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// UnrecognizedFailure replaces remote error text that carries no information.
const UnrecognizedFailure = "unrecognized internal failure"

var opaqueFragments = []string{
	ErrInternal,
	"unknown error",
	"attempt to index",
	"attempt to call",
	"stack traceback",
}

// TranslateRemoteError returns text unchanged unless it is one of the
// authority's opaque sentinels.
func TranslateRemoteError(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return UnrecognizedFailure
	}
	lower := strings.ToLower(t)
	for _, f := range opaqueFragments {
		if strings.Contains(lower, strings.ToLower(f)) {
			return UnrecognizedFailure
		}
	}
	return t
}
