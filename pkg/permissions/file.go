package permissions

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// LoadFile reads a YAML or JSON list of permission records, for example
//
//	- resource: rw-/srv/data
//	  granted:
//	    - peer: 5f1c...
//	      app_key: key-1
func LoadFile(path string) ([]Permission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading permissions: %w", err)
	}
	var perms []Permission
	if err := yaml.Unmarshal(data, &perms); err != nil {
		return nil, fmt.Errorf("parsing permissions %s: %w", path, err)
	}
	for i, p := range perms {
		if p.Resource.IsZero() {
			return nil, fmt.Errorf("permissions %s: entry %d has no resource", path, i)
		}
	}
	return perms, nil
}
