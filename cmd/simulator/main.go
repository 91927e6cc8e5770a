package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// VehicleState is what a field device knows about one machine between fuelings.
type VehicleState struct {
	Code      string
	Horimeter float64
	Km        float64
	TankSize  float64 // liters
}

// Capture is the body posted to /field/records.
type Capture struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	Force   bool                   `json:"force,omitempty"`
	SyncNow bool                   `json:"sync_now,omitempty"`
}

// Prefixes of the equipment codes painted on the machines.
var vehiclePrefixes = []string{"CM", "CB", "PC", "TR", "ESC"}

var operators = []string{"José Almeida", "Carla Nunes", "Pedro Lima", "Ana Souza"}

// Simulator posts captures the way a tablet in the yard does.
type Simulator struct {
	APIURL        string
	Token         string
	Client        *http.Client
	Rand          *rand.Rand
	DoubleTapRate float64
	MeterRate     float64
	Now           func() time.Time
}

func (s *Simulator) post(path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.APIURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	return s.Client.Do(req)
}

// Login exchanges credentials for a token and keeps it on the simulator.
func (s *Simulator) Login(username, password string) error {
	resp, err := s.post("/auth/login", map[string]string{"username": username, "password": password})
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status: %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("login response carried no token")
	}
	s.Token = out.Token
	return nil
}

// Send posts one capture and returns the HTTP status.
func (s *Simulator) Send(c Capture) (int, error) {
	resp, err := s.post("/field/records", c)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sync asks the service to drain this device's queue.
func (s *Simulator) Sync() (synced, failed int, err error) {
	resp, err := s.post("/field/sync", struct{}{})
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("sync failed with status: %d", resp.StatusCode)
	}
	var out struct {
		Synced int `json:"synced"`
		Failed int `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return out.Synced, out.Failed, nil
}

// FormatLocale renders v the way operators type it: "500", "87,5" or "1.234,5".
func FormatLocale(v float64, grouped bool) string {
	v = math.Round(v*10) / 10
	s := strconv.FormatFloat(v, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if grouped {
		whole = groupThousands(whole)
	}
	if frac == "" {
		return whole
	}
	return whole + "," + frac
}

func groupThousands(digits string) string {
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return sign + b.String()
}

// NewFleet creates vehicles with plausible starting meters.
func NewFleet(rng *rand.Rand, size int) []*VehicleState {
	fleet := make([]*VehicleState, 0, size)
	for i := 0; i < size; i++ {
		prefix := vehiclePrefixes[rng.Intn(len(vehiclePrefixes))]
		fleet = append(fleet, &VehicleState{
			Code:      fmt.Sprintf("%s-%03d", prefix, 100+i),
			Horimeter: 1000 + math.Round(rng.Float64()*8000),
			Km:        20000 + math.Round(rng.Float64()*150000),
			TankSize:  []float64{150, 300, 500}[rng.Intn(3)],
		})
	}
	return fleet
}

// FuelCapture advances the vehicle's meters and builds a fueling.
// horimeter_previous is left empty so the service fills it from history.
func (s *Simulator) FuelCapture(v *VehicleState) Capture {
	now := s.Now()
	v.Horimeter += 4 + math.Round(s.Rand.Float64()*40)/2
	v.Km += math.Round(s.Rand.Float64() * 300)
	liters := math.Round((0.3+s.Rand.Float64()*0.7)*v.TankSize*2) / 2

	return Capture{
		Type: "fuel_record",
		Payload: map[string]interface{}{
			"vehicle_code":       v.Code,
			"record_date":        now.Format("2006-01-02"),
			"record_time":        now.Format("15:04"),
			"record_type":        "dispensed",
			"fuel_type":          "diesel",
			"fuel_quantity":      FormatLocale(liters, false),
			"horimeter_previous": "",
			"horimeter_current":  FormatLocale(v.Horimeter, true),
			"km_current":         FormatLocale(v.Km, true),
			"operator_name":      operators[s.Rand.Intn(len(operators))],
			"location":           "Pátio central",
		},
	}
}

// MeterCapture records the current meters without fueling.
func (s *Simulator) MeterCapture(v *VehicleState) Capture {
	now := s.Now()
	v.Horimeter += 1 + math.Round(s.Rand.Float64()*10)
	return Capture{
		Type: "meter_reading",
		Payload: map[string]interface{}{
			"vehicle_code":      v.Code,
			"reading_date":      now.Format("2006-01-02"),
			"reading_time":      now.Format("15:04"),
			"horimeter_current": FormatLocale(v.Horimeter, true),
			"km_current":        FormatLocale(v.Km, true),
		},
	}
}

// Tick sends one capture for a random vehicle and, sometimes, the same capture again.
func (s *Simulator) Tick(fleet []*VehicleState) {
	v := fleet[s.Rand.Intn(len(fleet))]
	c := s.FuelCapture(v)
	if s.Rand.Float64() < s.MeterRate {
		c = s.MeterCapture(v)
	}

	status, err := s.Send(c)
	if err != nil {
		log.WithError(err).WithField("vehicle_code", v.Code).Error("Failed to send capture")
		return
	}
	log.WithFields(log.Fields{"vehicle_code": v.Code, "type": c.Type, "status": status}).Info("Sent capture")

	if c.Type == "fuel_record" && s.Rand.Float64() < s.DoubleTapRate {
		status, err := s.Send(c)
		if err != nil {
			log.WithError(err).WithField("vehicle_code", v.Code).Error("Failed to send double tap")
			return
		}
		entry := log.WithFields(log.Fields{"vehicle_code": v.Code, "status": status})
		if status == http.StatusConflict {
			entry.Info("Double tap rejected as duplicate")
		} else {
			entry.Warn("Double tap was accepted")
		}
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return def
}

func main() {
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	fleetSize := envInt("FLEET_SIZE", 10)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 5)) * time.Second
	syncEvery := envInt("SIM_SYNC_EVERY", 6)

	sim := &Simulator{
		APIURL:        apiURL,
		Token:         os.Getenv("SIM_AUTH_TOKEN"),
		Client:        &http.Client{Timeout: 10 * time.Second},
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		DoubleTapRate: envFloat("SIM_DOUBLE_TAP_RATE", 0.15),
		MeterRate:     envFloat("SIM_METER_RATE", 0.2),
		Now:           time.Now,
	}
	if sim.Token == "" {
		if err := sim.Login(os.Getenv("SIM_USERNAME"), os.Getenv("SIM_PASSWORD")); err != nil {
			log.WithError(err).Fatal("Set SIM_AUTH_TOKEN or SIM_USERNAME/SIM_PASSWORD for an operator account")
		}
	}

	fleet := NewFleet(sim.Rand, fleetSize)
	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
		"sync_every": syncEvery,
	}).Info("Starting field capture simulation")

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for n := 1; ; n++ {
		<-tick.C
		sim.Tick(fleet)
		if n%syncEvery == 0 {
			synced, failed, err := sim.Sync()
			if err != nil {
				log.WithError(err).Warn("Sync request failed")
				continue
			}
			log.WithFields(log.Fields{"synced": synced, "failed": failed}).Info("Queue drained")
		}
	}
}
