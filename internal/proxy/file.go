package proxy

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML proxy list. A missing file is an empty pool,
// not an error.
func LoadFile(path string) ([]Endpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	if err := yaml.Unmarshal(data, &endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}

func SaveFile(path string, endpoints []Endpoint) error {
	data, err := yaml.Marshal(endpoints)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
