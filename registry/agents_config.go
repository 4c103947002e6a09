package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadBootstrapFile reads a YAML file listing Agent Cards to seed the
// registry at boot, per spec §11's "config sources" (file-based agent
// list alongside env/Redis).
func LoadBootstrapFile(path string) ([]AgentCard, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read bootstrap file: %w", err)
	}
	var file BootstrapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("registry: parse bootstrap file: %w", err)
	}
	return file.Agents, nil
}
