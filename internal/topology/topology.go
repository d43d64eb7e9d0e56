// Package topology models the container service topology and renders it
// as a compose descriptor.
package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// Spec is the root of a compose descriptor.
type Spec struct {
	Services map[string]Service `yaml:"services"`
	Networks map[string]Network `yaml:"networks,omitempty"`
	Volumes  map[string]Volume  `yaml:"volumes,omitempty"`
}

// Service describes one container in the topology.
type Service struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	EnvFile       []string          `yaml:"env_file,omitempty"`
	Environment   []string          `yaml:"environment,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Networks      []string          `yaml:"networks,omitempty"`
	DependsOn     map[string]Depend `yaml:"depends_on,omitempty"`
	HealthCheck   *HealthCheck      `yaml:"healthcheck,omitempty"`
}

// Depend expresses a startup condition on another service.
type Depend struct {
	Condition string `yaml:"condition"`
}

// Network declares a compose network.
type Network struct {
	Driver   string `yaml:"driver,omitempty"`
	External bool   `yaml:"external,omitempty"`
}

// Volume declares a named volume.
type Volume struct {
	Driver   string `yaml:"driver,omitempty"`
	External bool   `yaml:"external,omitempty"`
}

// HealthCheck configures a container liveness probe.
type HealthCheck struct {
	Test        []string `yaml:"test,omitempty"`
	Interval    string   `yaml:"interval,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

// Dependency conditions understood by compose.
const (
	ConditionStarted = "service_started"
	ConditionHealthy = "service_healthy"
)

// Marshal renders the topology as compose YAML.
func (s *Spec) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal topology: %w", err)
	}
	return out, nil
}

// Validate checks structural invariants: dependencies must resolve, the
// dependency graph must be acyclic and host ports must not collide.
func (s *Spec) Validate() error {
	if len(s.Services) == 0 {
		return fmt.Errorf("topology has no services")
	}
	hostPorts := make(map[string]string)
	for name, svc := range s.Services {
		if strings.TrimSpace(svc.Image) == "" {
			return fmt.Errorf("service %s: image required", name)
		}
		for dep := range svc.DependsOn {
			if dep == name {
				return fmt.Errorf("service %s depends on itself", name)
			}
			if _, ok := s.Services[dep]; !ok {
				return fmt.Errorf("service %s depends on unknown service %s", name, dep)
			}
		}
		for _, port := range svc.Ports {
			bindings, err := hostBindings(port)
			if err != nil {
				return fmt.Errorf("service %s: invalid port mapping %q: %w", name, port, err)
			}
			for _, host := range bindings {
				if other, dup := hostPorts[host]; dup {
					return fmt.Errorf("host port %s claimed by both %s and %s", host, other, name)
				}
				hostPorts[host] = name
			}
		}
	}
	if _, err := s.StartOrder(); err != nil {
		return err
	}
	return nil
}

// StartOrder returns service names in dependency order: a service appears
// after everything it depends on. Ties break alphabetically so the order
// is deterministic.
func (s *Spec) StartOrder() ([]string, error) {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))

	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through service %s", name)
		}
		state[name] = visiting
		deps := make([]string, 0, len(s.Services[name].DependsOn))
		for dep := range s.Services[name].DependsOn {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := s.Services[dep]; !ok {
				return fmt.Errorf("service %s depends on unknown service %s", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// hostBindings extracts the host-side addresses of a compose port mapping
// such as "127.0.0.1:5001:5001" or "80:80". Container-only specs yield
// nothing.
func hostBindings(spec string) ([]string, error) {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range mappings {
		port := strings.TrimSpace(m.Binding.HostPort)
		if port == "" {
			continue
		}
		out = append(out, m.Binding.HostIP+":"+port)
	}
	return out, nil
}
