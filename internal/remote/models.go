package remote

// System identifies a greenhouse subsystem on the device API.
type System string

const (
	SystemIrrigation  System = "irrigacao"
	SystemLighting    System = "iluminacao"
	SystemVentilation System = "ventilacao"
)

// AutomationConfig is the device's automation-mode snapshot.
type AutomationConfig struct {
	Irrigation  bool `json:"irrigacao"`
	Lighting    bool `json:"iluminacao"`
	Ventilation bool `json:"ventilacao"`
}

// SystemStatus is the device's sensor/actuator status snapshot.
// Only the fields the daemon reads are decoded.
type SystemStatus struct {
	LightLevel       float64 `json:"intensidade_luz"`
	FanSpeed         float64 `json:"velocidade_ventoinha"`
	ReservoirLevelCm float64 `json:"nivel_reservatorio_cm"`
	Temperature      float64 `json:"temperatura,omitempty"`
	Humidity         float64 `json:"umidade,omitempty"`
}

type automationWrite struct {
	System System `json:"sistema"`
	Active bool   `json:"ativo"`
}

type manualWrite struct {
	System System `json:"sistema"`
	TurnOn bool   `json:"ligar"`
}
