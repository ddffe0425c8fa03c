package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func validTopology() *Topology {
	t := &Topology{
		Stack: "demo",
		Services: map[string]ServiceSpec{
			"db": {
				Image: "mysql:8.4",
				Networks: map[string]ServiceNetwork{
					"internal": {Aliases: []string{"db.domain"}},
				},
				Volumes: []VolumeMount{
					{Name: "db-data", MountPath: "/var/lib/mysql"},
				},
			},
			"backend": {
				Build: &BuildSpec{Context: "./backend"},
				Environment: map[string]string{
					"DB_HOST": "db.domain",
				},
				Ports: []PortBinding{
					{ContainerPort: 80, HostPort: intPtr(8000)},
				},
				Networks: map[string]ServiceNetwork{
					"internal": {Aliases: []string{"backend.domain"}},
				},
				DependsOn: []string{"db"},
			},
		},
		Networks: map[string]NetworkSpec{"internal": {}},
		Volumes:  map[string]VolumeSpec{"db-data": {}},
	}
	t.applyDefaults()
	return t
}

func TestLoadTopology(t *testing.T) {
	manifest := `
stack: demo
services:
  db:
    image: mysql:8.4
    networks:
      internal:
        aliases: [db.domain]
    volumes:
      - name: db-data
        mount_path: /var/lib/mysql
    healthcheck:
      test: ["CMD", "mysqladmin", "ping"]
      interval: 5s
  backend:
    build:
      context: ./backend
    ports:
      - container_port: 80
        host_port: 8000
    networks:
      internal: {}
    depends_on: [db]
networks:
  internal: {}
volumes:
  db-data: {}
`
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	topology, err := LoadTopology(path)
	require.NoError(t, err)
	require.NoError(t, topology.Validate())

	assert.Equal(t, "demo", topology.Stack)
	assert.Equal(t, "docker", topology.Platform)
	assert.Equal(t, []string{"backend", "db"}, topology.ServiceNames())

	db := topology.Services["db"]
	assert.Equal(t, RestartModeAlways, db.Restart)
	assert.Equal(t, []string{"db.domain"}, db.Networks["internal"].Aliases)

	backend := topology.Services["backend"]
	require.NotNil(t, backend.Build)
	assert.Equal(t, "Dockerfile", backend.Build.Dockerfile)
	require.Len(t, backend.Ports, 1)
	assert.Equal(t, "tcp", backend.Ports[0].Protocol)
	require.NotNil(t, backend.Ports[0].HostPort)
	assert.Equal(t, 8000, *backend.Ports[0].HostPort)
}

func TestLoadTopologyMissingFile(t *testing.T) {
	_, err := LoadTopology(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateAcceptsValidTopology(t *testing.T) {
	assert.NoError(t, validTopology().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Topology)
		wantErr string
	}{
		{
			name:    "missing stack name",
			mutate:  func(t *Topology) { t.Stack = " " },
			wantErr: "stack name",
		},
		{
			name:    "no services",
			mutate:  func(t *Topology) { t.Services = nil },
			wantErr: "no services",
		},
		{
			name: "image and build both set",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Build = &BuildSpec{Context: "."}
				t.Services["db"] = svc
			},
			wantErr: "exactly one of image or build",
		},
		{
			name: "neither image nor build",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Image = ""
				t.Services["db"] = svc
			},
			wantErr: "exactly one of image or build",
		},
		{
			name: "invalid restart mode",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Restart = "sometimes"
				t.Services["db"] = svc
			},
			wantErr: "invalid restart mode",
		},
		{
			name: "container port out of range",
			mutate: func(t *Topology) {
				svc := t.Services["backend"]
				svc.Ports = []PortBinding{{ContainerPort: 70000, Protocol: "tcp"}}
				t.Services["backend"] = svc
			},
			wantErr: "invalid container_port",
		},
		{
			name: "undeclared network",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Networks = map[string]ServiceNetwork{"ghost": {}}
				t.Services["db"] = svc
			},
			wantErr: "is not declared",
		},
		{
			name: "undeclared volume",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Volumes = []VolumeMount{{Name: "ghost", MountPath: "/data"}}
				t.Services["db"] = svc
			},
			wantErr: "is not declared",
		},
		{
			name: "relative mount path",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Volumes = []VolumeMount{{Name: "db-data", MountPath: "data"}}
				t.Services["db"] = svc
			},
			wantErr: "must be absolute",
		},
		{
			name: "duplicate mount path",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Volumes = []VolumeMount{
					{Name: "db-data", MountPath: "/data"},
					{Name: "db-data", MountPath: "/data"},
				}
				t.Services["db"] = svc
			},
			wantErr: "duplicate volume mount_path",
		},
		{
			name: "unknown probe type",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Readiness = &ProbeSpec{Type: "icmp", Timeout: "3s"}
				t.Services["db"] = svc
			},
			wantErr: "unknown readiness probe type",
		},
		{
			name: "tcp probe without address",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Readiness = &ProbeSpec{Type: ProbeTypeTCP, Timeout: "3s"}
				t.Services["db"] = svc
			},
			wantErr: "missing an address",
		},
		{
			name: "probe with bad timeout",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Readiness = &ProbeSpec{Type: ProbeTypeTCP, Address: "localhost:3306", Timeout: "soon"}
				t.Services["db"] = svc
			},
			wantErr: "invalid timeout",
		},
		{
			name: "healthcheck without test",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Healthcheck = &HealthcheckSpec{}
				t.Services["db"] = svc
			},
			wantErr: "missing a test command",
		},
		{
			name: "healthcheck with bad interval",
			mutate: func(t *Topology) {
				svc := t.Services["db"]
				svc.Healthcheck = &HealthcheckSpec{Test: []string{"CMD", "true"}, Interval: "often"}
				t.Services["db"] = svc
			},
			wantErr: "invalid interval",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			topology := validTopology()
			tc.mutate(topology)
			err := topology.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestProbeTimeoutFallsBack(t *testing.T) {
	p := &ProbeSpec{Timeout: "2s"}
	assert.Equal(t, "2s", p.ProbeTimeout().String())

	p = &ProbeSpec{Timeout: "garbage"}
	assert.Equal(t, "3s", p.ProbeTimeout().String())
}
