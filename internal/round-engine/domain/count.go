package domain

import "time"

// Box é a caixa delimitadora de uma detecção, em coordenadas normalizadas
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection é um veículo detectado no frame
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	TrackID    int64   `json:"track_id,omitempty"`
}

// CountSnapshot é a contagem persistida periodicamente (consultas de baseline)
type CountSnapshot struct {
	CameraID         string         `json:"camera_id"`
	CapturedAt       time.Time      `json:"captured_at"`
	Total            int            `json:"total"`
	VehicleBreakdown map[string]int `json:"vehicle_breakdown"`
}

// Count retorna a contagem da classe, ou o total quando class é vazio
func (s CountSnapshot) Count(class string) int {
	return pick(s.Total, s.VehicleBreakdown, class)
}

// CountFrame é uma observação ao vivo vinda do push channel
type CountFrame struct {
	CameraID         string         `json:"camera_id"`
	CapturedAt       time.Time      `json:"captured_at"`
	Total            int            `json:"total"`
	VehicleBreakdown map[string]int `json:"vehicle_breakdown"`
	NewCrossings     int            `json:"new_crossings"`
	Detections       []Detection    `json:"detections"`
	RuntimeProfile   string         `json:"runtime_profile,omitempty"`
	SceneLighting    string         `json:"scene_lighting,omitempty"`

	// campos locais, nunca enviados pelo pipeline
	Bootstrap  bool      `json:"bootstrap,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Count retorna a contagem da classe, ou o total quando class é vazio
func (f CountFrame) Count(class string) int {
	return pick(f.Total, f.VehicleBreakdown, class)
}

func pick(total int, breakdown map[string]int, class string) int {
	v := total
	if class != "" {
		v = breakdown[class]
	}
	if v < 0 {
		return 0
	}
	return v
}
