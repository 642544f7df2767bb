package service

// Push event types sent to a user's open pages.
const (
	MsgAnsweredUpdate = "answered_update"
	MsgGateUpdate     = "gate_update"
)

// Broadcaster interface for WebSocket pushes (avoids import cycle)
type Broadcaster interface {
	SendToUser(userID, msgType string, payload interface{})
}

type nopBroadcaster struct{}

func (nopBroadcaster) SendToUser(string, string, interface{}) {}
