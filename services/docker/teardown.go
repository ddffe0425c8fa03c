package docker

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/moby/moby/client"

	"github.com/watchlog/stackrunner/models"
	"github.com/watchlog/stackrunner/services/report"
)

// Down stops and removes the stack's containers and networks, found by
// label filter. Volumes survive unless removeVolumes is set: persisted
// database state is destroyed only by explicit request, and removing the
// volume is what re-triggers the engine's first-init provisioning on the
// next up.
func (p *DockerPlatform) Down(ctx context.Context, topology *models.Topology, removeVolumes bool) error {
	if err := p.TearDownServices(ctx, topology.Stack); err != nil {
		return err
	}
	if removeVolumes {
		if err := p.TearDownVolumes(ctx, topology.Stack); err != nil {
			return err
		}
	}
	if err := p.TearDownNetworks(ctx, topology.Stack); err != nil {
		return err
	}

	p.publish(ctx, topology.Stack, uuid.Nil, report.EventStackDown, "", "")
	return nil
}

func (p *DockerPlatform) TearDownServices(ctx context.Context, stack string) error {
	f := make(client.Filters).
		Add("label", labelStack+"="+stack)

	containers, err := p.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return fmt.Errorf("list stack containers (stack=%s): %w", stack, err)
	}

	for _, c := range containers.Items {
		// Stop (best-effort) then remove
		_, _ = p.client.ContainerStop(ctx, c.ID, client.ContainerStopOptions{})
		_, err = p.client.ContainerRemove(ctx, c.ID, client.ContainerRemoveOptions{
			Force:         true,
			RemoveVolumes: false,
		})
		if err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove container %q: %w", c.ID, err)
		}

		p.log.WithField("container", c.ID).Info("container removed")
	}

	return nil
}

func (p *DockerPlatform) TearDownVolumes(ctx context.Context, stack string) error {
	f := make(client.Filters).
		Add("label", labelStack+"="+stack)

	vols, err := p.client.VolumeList(ctx, client.VolumeListOptions{
		Filters: f,
	})
	if err != nil {
		return fmt.Errorf("list stack volumes (stack=%s): %w", stack, err)
	}

	for _, v := range vols.Items {
		if v.Name == "" {
			continue
		}

		if _, err := p.client.VolumeRemove(ctx, v.Name, client.VolumeRemoveOptions{}); err != nil {
			// Idempotent: if it vanished, ignore.
			if errdefs.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("remove volume %q: %w", v.Name, err)
		}

		p.log.WithField("volume", v.Name).Info("volume removed")
	}

	return nil
}

func (p *DockerPlatform) TearDownNetworks(ctx context.Context, stack string) error {
	f := make(client.Filters).
		Add("label", labelStack+"="+stack)

	nets, err := p.client.NetworkList(ctx, client.NetworkListOptions{
		Filters: f,
	})
	if err != nil {
		return fmt.Errorf("list stack networks (stack=%s): %w", stack, err)
	}

	for _, n := range nets.Items {
		if n.Name == "" || n.ID == "" {
			continue
		}

		// Prefer removing by ID to avoid name collisions.
		if _, err := p.client.NetworkRemove(ctx, n.ID, client.NetworkRemoveOptions{}); err != nil {
			// Idempotent: if it vanished, ignore.
			if errdefs.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("remove network %q (%s): %w", n.Name, n.ID, err)
		}

		p.log.WithField("network", n.Name).Info("network removed")
	}

	return nil
}
