package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML file holding credentials and server sizing.
type Profile struct {
	Proxy struct {
		URL    string `yaml:"url"`
		Token  string `yaml:"token"`
		HostID *int   `yaml:"host_id"`
	} `yaml:"proxy"`
	Panel struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"panel"`
	Server struct {
		Name     string `yaml:"name"`
		Nest     *int   `yaml:"nest"`
		Egg      *int   `yaml:"egg"`
		Location *int   `yaml:"location"`
		Memory   *int   `yaml:"memory"`
		Swap     *int   `yaml:"swap"`
		CPU      *int   `yaml:"cpu"`
		Disk     *int   `yaml:"disk"`
		User     *int   `yaml:"user"`
	} `yaml:"server"`
	Viewer struct {
		URL      string `yaml:"url"`
		Password string `yaml:"password"`
	} `yaml:"viewer"`
}

// LoadProfile reads a profile file. Unknown keys are rejected.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return parseProfile(data)
}

func parseProfile(data []byte) (Profile, error) {
	var profile Profile
	if len(bytes.TrimSpace(data)) == 0 {
		return profile, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("invalid profile: %w", err)
	}
	return profile, nil
}
