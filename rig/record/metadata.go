package record

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

const NO_DESCRIPTION = "No description provided"

// Metadata describes one finished run. Analysis tooling reads these keys by name.
type Metadata struct {
	Name                    string    `yaml:"-" json:"name" storm:"id"`
	Path                    string    `yaml:"-" json:"path"`
	Timestamp               string    `yaml:"timestamp" json:"timestamp" storm:"index"`
	ExperimentType          string    `yaml:"experiment_type" json:"experiment_type" storm:"index"`
	DurationSeconds         float64   `yaml:"duration_seconds" json:"duration_seconds"`
	MocapEnabled            bool      `yaml:"mocap_enabled" json:"mocap_enabled"`
	ArduinoIDs              []int     `yaml:"arduino_ids" json:"arduino_ids"`
	TargetPressuresPSI      []float64 `yaml:"target_pressures_psi" json:"target_pressures_psi"`
	EndAfterOneCycle        bool      `yaml:"end_after_one_cycle" json:"end_after_one_cycle"`
	RampdownDurationSeconds float64   `yaml:"rampdown_duration_seconds" json:"rampdown_duration_seconds"`
	SampleCount             uint64    `yaml:"sample_count" json:"sample_count"`
	PCAddress               string    `yaml:"pc_address" json:"pc_address"`
	MocapPort               string    `yaml:"mocap_port,omitempty" json:"mocap_port,omitempty"`
	MocapDataSize           int       `yaml:"mocap_data_size,omitempty" json:"mocap_data_size,omitempty"`
	Description             string    `yaml:"description" json:"description"`
	DescribedBy             string    `yaml:"described_by,omitempty" json:"described_by,omitempty"`
	StoppedBy               string    `yaml:"stopped_by,omitempty" json:"stopped_by,omitempty"`
	Columns                 []string  `yaml:"columns" json:"columns"`
}

// WriteSidecar stores m next to the run's CSV and returns the sidecar's path.
func WriteSidecar(csvPath string, m Metadata) (path string, err error) {
	if m.Description == "" {
		m.Description = NO_DESCRIPTION
	}

	out, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("unable to marshal metadata: %w", err)
	}

	path = SidecarPath(csvPath)
	if err = ioutil.WriteFile(path, out, 0644); err != nil {
		return "", fmt.Errorf("unable to write metadata: %w", err)
	}
	return path, nil
}

func ReadSidecar(csvPath string) (m Metadata, err error) {
	in, err := ioutil.ReadFile(SidecarPath(csvPath))
	if err != nil {
		return m, err
	}
	err = yaml.Unmarshal(in, &m)
	m.Path = csvPath
	return
}
