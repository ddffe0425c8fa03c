package models

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RestartMode string

const (
	RestartModeAlways        RestartMode = "always"
	RestartModeUnlessStopped RestartMode = "unless-stopped"
	RestartModeOnFailure     RestartMode = "on-failure"
	RestartModeNever         RestartMode = "no"
)

type ProbeType string

const (
	ProbeTypeTCP      ProbeType = "tcp"
	ProbeTypeHTTP     ProbeType = "http"
	ProbeTypePostgres ProbeType = "postgres"
)

// Topology is the parsed stack manifest: the set of services, the private
// networks they share and the named volumes they persist into.
type Topology struct {
	Stack    string                 `yaml:"stack"`
	Platform string                 `yaml:"platform,omitempty"` // defaults to "docker"
	Services map[string]ServiceSpec `yaml:"services"`
	Networks map[string]NetworkSpec `yaml:"networks,omitempty"`
	Volumes  map[string]VolumeSpec  `yaml:"volumes,omitempty"`

	// ResolvedVars records the value of every host variable referenced
	// anywhere in the manifest, keyed by variable name. Populated by
	// Resolve.
	ResolvedVars map[string]string `yaml:"-"`
}

type ServiceSpec struct {
	// Exactly one of Image / Build.
	Image string     `yaml:"image,omitempty"`
	Build *BuildSpec `yaml:"build,omitempty"`

	// Values may reference host variables as ${VAR}; references must
	// resolve before the service is allowed to start.
	Environment map[string]string `yaml:"environment,omitempty"`

	Ports []PortBinding `yaml:"ports,omitempty"`

	// Keys reference topology networks. A service with no memberships is
	// attached to the stack default network.
	Networks map[string]ServiceNetwork `yaml:"networks,omitempty"`

	// Keys reference other services. Dependents are started only after
	// the dependency reports ready (probe, health or running state).
	DependsOn []string `yaml:"depends_on,omitempty"`

	Volumes []VolumeMount `yaml:"volumes,omitempty"`

	Restart     RestartMode      `yaml:"restart,omitempty"` // defaults to "always"
	Readiness   *ProbeSpec       `yaml:"readiness,omitempty"`
	Healthcheck *HealthcheckSpec `yaml:"healthcheck,omitempty"`
}

type BuildSpec struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile,omitempty"` // relative to context, defaults to "Dockerfile"
}

type ServiceNetwork struct {
	Aliases []string `yaml:"aliases,omitempty"`
}

type PortBinding struct {
	ContainerPort int     `yaml:"container_port"`
	HostPort      *int    `yaml:"host_port,omitempty"`
	HostIP        *string `yaml:"host_ip,omitempty"`
	Protocol      string  `yaml:"protocol,omitempty"` // tcp (default) or udp
}

type VolumeMount struct {
	// Name of a volume declared in the topology volumes map.
	Name string `yaml:"name"`

	// Path inside the container where the volume is mounted.
	MountPath string `yaml:"mount_path"`
}

// ProbeSpec is a host-side readiness probe, run by the platform before any
// dependent service is started. Address, URL and DSN may all reference
// host variables as ${VAR}.
type ProbeSpec struct {
	Type    ProbeType `yaml:"type"`
	Address string    `yaml:"address,omitempty"` // tcp: host:port
	URL     string    `yaml:"url,omitempty"`     // http: any 2xx means ready
	DSN     string    `yaml:"dsn,omitempty"`     // postgres: connection string
	Timeout string    `yaml:"timeout,omitempty"` // per-attempt, defaults to 3s
}

// HealthcheckSpec is an in-container health command, mapped onto the
// engine's native healthcheck.
type HealthcheckSpec struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

type NetworkSpec struct {
	Driver string `yaml:"driver,omitempty"`
}

type VolumeSpec struct {
	Driver string `yaml:"driver,omitempty"`
}

// LoadTopology reads and parses a manifest file. The result is not yet
// resolved against the environment; see Topology.Resolve.
func LoadTopology(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}

	var t Topology
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse manifest %q: %w", path, err)
	}

	t.applyDefaults()
	return &t, nil
}

func (t *Topology) applyDefaults() {
	if t.Platform == "" {
		t.Platform = "docker"
	}
	for name, svc := range t.Services {
		if svc.Restart == "" {
			svc.Restart = RestartModeAlways
		}
		for i := range svc.Ports {
			if svc.Ports[i].Protocol == "" {
				svc.Ports[i].Protocol = "tcp"
			}
		}
		if svc.Build != nil && svc.Build.Dockerfile == "" {
			svc.Build.Dockerfile = "Dockerfile"
		}
		if svc.Readiness != nil && svc.Readiness.Timeout == "" {
			svc.Readiness.Timeout = "3s"
		}
		t.Services[name] = svc
	}
}

// ServiceNames returns the service keys in stable order.
func (t *Topology) ServiceNames() []string {
	names := make([]string, 0, len(t.Services))
	for name := range t.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the structural invariants of the manifest: required
// fields, value domains and cross-references between services, networks
// and volumes. Environment resolution is a separate step.
func (t *Topology) Validate() error {
	if strings.TrimSpace(t.Stack) == "" {
		return fmt.Errorf("manifest is missing a stack name")
	}
	if len(t.Services) == 0 {
		return fmt.Errorf("manifest declares no services")
	}

	for _, name := range t.ServiceNames() {
		if err := t.validateService(name, t.Services[name]); err != nil {
			return err
		}
	}

	return nil
}

func (t *Topology) validateService(name string, svc ServiceSpec) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("manifest contains a service with an empty name")
	}

	hasImage := strings.TrimSpace(svc.Image) != ""
	hasBuild := svc.Build != nil
	if hasImage == hasBuild {
		return fmt.Errorf("service %q must declare exactly one of image or build", name)
	}
	if hasBuild && strings.TrimSpace(svc.Build.Context) == "" {
		return fmt.Errorf("service %q build is missing a context directory", name)
	}

	switch svc.Restart {
	case RestartModeAlways, RestartModeUnlessStopped, RestartModeOnFailure, RestartModeNever:
	default:
		return fmt.Errorf("service %q has invalid restart mode %q", name, svc.Restart)
	}

	for _, b := range svc.Ports {
		if b.ContainerPort <= 0 || b.ContainerPort > 65535 {
			return fmt.Errorf("service %q has invalid container_port %d", name, b.ContainerPort)
		}
		if b.HostPort != nil && (*b.HostPort <= 0 || *b.HostPort > 65535) {
			return fmt.Errorf("service %q has invalid host_port %d", name, *b.HostPort)
		}
		if b.Protocol != "tcp" && b.Protocol != "udp" {
			return fmt.Errorf("service %q has invalid port protocol %q", name, b.Protocol)
		}
	}

	for netName := range svc.Networks {
		if _, ok := t.Networks[netName]; !ok {
			return fmt.Errorf("service %q joins network %q, but %q is not declared", name, netName, netName)
		}
	}

	seenMountPath := map[string]struct{}{}
	for _, m := range svc.Volumes {
		mountPath := strings.TrimSpace(m.MountPath)
		if mountPath == "" {
			return fmt.Errorf("service %q has a volume with empty mount_path", name)
		}
		if !strings.HasPrefix(mountPath, "/") {
			return fmt.Errorf("service %q volume mount_path %q must be absolute", name, mountPath)
		}
		if _, ok := seenMountPath[mountPath]; ok {
			return fmt.Errorf("service %q has duplicate volume mount_path %q", name, mountPath)
		}
		seenMountPath[mountPath] = struct{}{}

		volName := strings.TrimSpace(m.Name)
		if volName == "" {
			return fmt.Errorf("service %q has a volume with empty name", name)
		}
		if _, ok := t.Volumes[volName]; !ok {
			return fmt.Errorf("service %q mounts volume %q, but %q is not declared", name, volName, volName)
		}
	}

	if svc.Readiness != nil {
		if err := validateProbe(name, svc.Readiness); err != nil {
			return err
		}
	}
	if svc.Healthcheck != nil {
		if err := validateHealthcheck(name, svc.Healthcheck); err != nil {
			return err
		}
	}

	return nil
}

func validateProbe(service string, p *ProbeSpec) error {
	switch p.Type {
	case ProbeTypeTCP:
		if strings.TrimSpace(p.Address) == "" {
			return fmt.Errorf("service %q tcp readiness probe is missing an address", service)
		}
	case ProbeTypeHTTP:
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("service %q http readiness probe is missing a url", service)
		}
	case ProbeTypePostgres:
		if strings.TrimSpace(p.DSN) == "" {
			return fmt.Errorf("service %q postgres readiness probe is missing a dsn", service)
		}
	default:
		return fmt.Errorf("service %q has unknown readiness probe type %q", service, p.Type)
	}

	if _, err := time.ParseDuration(p.Timeout); err != nil {
		return fmt.Errorf("service %q readiness probe has invalid timeout %q", service, p.Timeout)
	}
	return nil
}

func validateHealthcheck(service string, h *HealthcheckSpec) error {
	if len(h.Test) == 0 {
		return fmt.Errorf("service %q healthcheck is missing a test command", service)
	}
	for field, v := range map[string]string{
		"interval":     h.Interval,
		"timeout":      h.Timeout,
		"start_period": h.StartPeriod,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("service %q healthcheck has invalid %s %q", service, field, v)
		}
	}
	if h.Retries < 0 {
		return fmt.Errorf("service %q healthcheck has negative retries", service)
	}
	return nil
}

// ProbeTimeout returns the parsed per-attempt timeout. Validate must have
// accepted the spec first.
func (p *ProbeSpec) ProbeTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 3 * time.Second
	}
	return d
}
