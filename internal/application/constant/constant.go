package constant

// Ключи атрибутов slog
const (
	Error         = "error"
	RoomID        = "room_id"
	UserID        = "user_id"
	UserName      = "user_name"
	ConnectionID  = "connection_id"
	ParticipantID = "participant_id"
	MessageType   = "message_type"
	To            = "to"
	State         = "state"
	Attempt       = "attempt"
	Kind          = "kind"
	Codec         = "codec"
	Component     = "component"
)
