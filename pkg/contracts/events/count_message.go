package events

import "time"

// Tipos de mensagem do push channel
const (
	TypeCount = "count"
	TypeRound = "round"
)

// Envelope é lido primeiro para descobrir o tipo da mensagem
type Envelope struct {
	Type string `json:"type"`
}

type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	TrackID    int64   `json:"track_id,omitempty"`
}

// Mensagem {type:"count"} emitida pelo pipeline de visão a cada frame processado
type CountMessage struct {
	Type             string         `json:"type"`
	CameraID         string         `json:"camera_id"`
	CapturedAt       time.Time      `json:"captured_at"`
	Total            int            `json:"total"`
	VehicleBreakdown map[string]int `json:"vehicle_breakdown"`
	NewCrossings     int            `json:"new_crossings"`
	Detections       []Detection    `json:"detections"`
	RuntimeProfile   string         `json:"runtime_profile,omitempty"`
	SceneLighting    string         `json:"scene_lighting,omitempty"`
}
