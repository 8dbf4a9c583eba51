package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeRequest  = "REQ"
	TypeResponse = "RESP"
)

// Operations understood by the authority.
const (
	OpSubmitPath     = "submit_path"
	OpFetchPath      = "fetch_path"
	OpQueryEntities  = "query_entities"
	OpQueryByKind    = "query_by_kind"
	OpInstallBuffer  = "install_buffer"
	OpClearBuffer    = "clear_buffer"
	OpInventoryCount = "inventory_count"
	OpPickup         = "pickup"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ID              string `json:"id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	return v == Version
}
