package feed

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Default simulated signals.
const (
	DefaultSpeedPath = "Vehicle.Speed"
	DefaultFuelPath  = "Vehicle.Powertrain.FuelSystem.RelativeLevel"
	DefaultDoorPath  = "Vehicle.Cabin.Door.Row1.DriverSide.IsOpen"

	DefaultSimulationInterval = time.Second
)

// SimulatorConfig configures a Simulator. An empty path disables that
// signal.
type SimulatorConfig struct {
	// Interval between steps (default: 1s).
	Interval time.Duration

	// SpeedPath receives a speed in km/h following a drive cycle.
	SpeedPath string

	// FuelPath receives a fuel level in percent that drains with distance.
	FuelPath string

	// DoorPath receives a door state that opens while the vehicle stands.
	DoorPath string

	// Logger for operational logs (optional).
	Logger *slog.Logger
}

// DefaultSimulatorConfig returns a configuration for a VSS tree.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Interval:  DefaultSimulationInterval,
		SpeedPath: DefaultSpeedPath,
		FuelPath:  DefaultFuelPath,
		DoorPath:  DefaultDoorPath,
	}
}

// Simulator produces synthetic drive data.
type Simulator struct {
	sink   Sink
	config SimulatorConfig

	step  int
	speed float64
	fuel  float64
	door  bool
}

// NewSimulator creates a simulator writing to sink.
func NewSimulator(sink Sink, config SimulatorConfig) *Simulator {
	if config.Interval <= 0 {
		config.Interval = DefaultSimulationInterval
	}
	return &Simulator{sink: sink, config: config, fuel: 100}
}

// Run steps the simulation until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.debugLog("simulation started", "interval", s.config.Interval)
	for {
		select {
		case <-ctx.Done():
			s.debugLog("simulation stopped", "steps", s.step)
			return ctx.Err()
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}

// Step advances the simulation by one interval and writes all signals.
//
// The drive cycle is 60 steps: 10 standing with the door open, then
// accelerating to a 120 km/h peak and braking back to standstill.
func (s *Simulator) Step(now time.Time) {
	phase := s.step % 60
	s.step++

	if phase < 10 {
		s.speed = 0
	} else {
		s.speed = math.Round(120*math.Sin(math.Pi*float64(phase-10)/50)*10) / 10
	}
	s.door = phase >= 2 && phase < 8

	// One percent per 10 km at the simulated pace, refilled when empty.
	s.fuel -= s.speed * s.config.Interval.Hours() / 10
	if s.fuel <= 0 {
		s.fuel = 100
	}

	s.write(s.config.SpeedPath, s.speed, now)
	s.write(s.config.FuelPath, uint8(math.Round(s.fuel)), now)
	s.write(s.config.DoorPath, s.door, now)
}

// Speed returns the last simulated speed.
func (s *Simulator) Speed() float64 { return s.speed }

func (s *Simulator) write(path string, value any, now time.Time) {
	if path == "" {
		return
	}
	if _, err := s.sink.UpdatePath(path, value, now); err != nil {
		s.debugLog("simulated write failed", "path", path, "error", err)
	}
}

// debugLog logs a debug message if logging is enabled.
func (s *Simulator) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
