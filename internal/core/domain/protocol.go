package domain

const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeSubscribed = "subscribed"
	TypeConnected  = "connected"
)

const ActionSubscribe = "subscribe"

// RegisterRequest must be the first frame a client sends. Anything
// else on a pending session is a protocol violation.
type RegisterRequest struct {
	Type   string `json:"type"` // "register"
	UserID string `json:"userId"`
}

// RegisteredAck confirms the user binding back to the client.
type RegisteredAck struct {
	Type   string `json:"type"` // "registered"
	UserID string `json:"userId"`
}

// SubscribeRequest attaches the session to a job's update stream.
type SubscribeRequest struct {
	Action string `json:"action"` // "subscribe"
	JobID  string `json:"jobId"`
}

// SubscribedAck confirms a job subscription.
type SubscribedAck struct {
	Type  string `json:"type"` // "subscribed"
	JobID string `json:"jobId"`
}

// ConnectedFrame is sent once, immediately after the upgrade, so the
// client can log the server-assigned session id.
type ConnectedFrame struct {
	Type     string `json:"type"` // "connected"
	ClientID string `json:"clientId"`
}
