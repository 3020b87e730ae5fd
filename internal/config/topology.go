package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topology is the optional, non-secret deployment file an operator may point
// at via CONFIG_FILE. It only ever overrides backend selection and
// observability naming; credentials and endpoints stay in the environment.
type Topology struct {
	SearchBackend  string `yaml:"search_backend"`
	VectorBackend  string `yaml:"vector_backend"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// ApplyTopologyFile merges CONFIG_FILE's contents into cfg when set,
// environment variables having already won on every field they touched.
func ApplyTopologyFile(cfg *Config) error {
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var top Topology
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return err
	}
	if os.Getenv("SEARCH_BACKEND") == "" && top.SearchBackend != "" {
		cfg.DB.Search.Backend = top.SearchBackend
	}
	if os.Getenv("VECTOR_BACKEND") == "" && top.VectorBackend != "" {
		cfg.DB.Vector.Backend = top.VectorBackend
	}
	if os.Getenv("OTEL_SERVICE_NAME") == "" && top.ServiceName != "" {
		cfg.Obs.ServiceName = top.ServiceName
	}
	if os.Getenv("OTEL_SERVICE_VERSION") == "" && top.ServiceVersion != "" {
		cfg.Obs.ServiceVersion = top.ServiceVersion
	}
	return nil
}
