package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/moby/moby/client"

	"github.com/watchlog/stackrunner/models"
	"github.com/watchlog/stackrunner/services"
)

// Logs streams one service's log output, demultiplexed into stdout and
// stderr. With follow set the stream stays open until the container exits
// or the context is cancelled.
func (p *DockerPlatform) Logs(ctx context.Context, topology *models.Topology, service string, follow bool, stdout, stderr io.Writer) error {
	if _, ok := topology.Services[service]; !ok {
		return fmt.Errorf("service %q is not declared in stack %q", service, topology.Stack)
	}

	containerName := services.ContainerName(topology.Stack, service)

	rc, err := p.client.ContainerLogs(ctx, containerName, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Timestamps: false,
		Since:      "0",
	})
	if err != nil {
		return fmt.Errorf("logs container %q: %w", containerName, err)
	}
	defer rc.Close()

	return services.DemuxEngineLogs(stdout, stderr, rc)
}
