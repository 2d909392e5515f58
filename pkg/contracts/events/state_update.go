package events

import "encoding/json"

// StateUpdate carrega um snapshot do motor pelo Redis Pub/Sub até os clientes WS
type StateUpdate struct {
	CameraID string          `json:"camera_id"`
	Payload  json.RawMessage `json:"payload"`
}
