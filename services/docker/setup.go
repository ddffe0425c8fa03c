package docker

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/watchlog/stackrunner/models"
	"github.com/watchlog/stackrunner/services"
	"github.com/watchlog/stackrunner/services/report"
)

// Up validates, then creates networks and volumes, then builds/pulls
// images and starts containers in dependency order. A dependent service is
// not started until each of its dependencies reports ready, and Up itself
// returns only once every service, leaves included, has reported ready.
func (p *DockerPlatform) Up(ctx context.Context, run uuid.UUID, topology *models.Topology) error {
	if err := p.Check(topology); err != nil {
		return err
	}

	if err := p.NetworkSetup(ctx, run, topology); err != nil {
		return err
	}
	if err := p.VolumeSetup(ctx, run, topology); err != nil {
		return err
	}

	order, err := services.StartOrder(topology.Services)
	if err != nil {
		return err
	}

	ready := make(map[string]struct{}, len(order))
	for _, name := range order {
		svc := topology.Services[name]

		for _, dep := range svc.DependsOn {
			if _, ok := ready[dep]; ok {
				continue
			}
			if err := p.WaitReady(ctx, topology, dep); err != nil {
				p.publish(ctx, topology.Stack, run, report.EventServiceFailed, dep, err.Error())
				return fmt.Errorf("dependency %q of service %q never became ready: %w", dep, name, err)
			}
			ready[dep] = struct{}{}
			p.publish(ctx, topology.Stack, run, report.EventServiceReady, dep, "")
		}

		if err := p.SetupService(ctx, run, topology, name); err != nil {
			p.publish(ctx, topology.Stack, run, report.EventServiceFailed, name, err.Error())
			return err
		}
	}

	// Services nothing depends on were started but never waited for.
	for _, name := range order {
		if _, ok := ready[name]; ok {
			continue
		}
		if err := p.WaitReady(ctx, topology, name); err != nil {
			p.publish(ctx, topology.Stack, run, report.EventServiceFailed, name, err.Error())
			return fmt.Errorf("service %q never became ready: %w", name, err)
		}
		ready[name] = struct{}{}
		p.publish(ctx, topology.Stack, run, report.EventServiceReady, name, "")
	}

	p.publish(ctx, topology.Stack, run, report.EventStackUp, "", "")
	return nil
}

// NetworkSetup ensures every network a service can join exists: the
// declared networks plus the stack default network when some service
// declares no memberships. Creation is race-safe: on a create error the
// network is re-inspected before failing.
func (p *DockerPlatform) NetworkSetup(ctx context.Context, run uuid.UUID, topology *models.Topology) error {
	needed := map[string]string{} // engine name -> logical name

	for logical := range topology.Networks {
		needed[services.NetworkName(topology.Stack, logical)] = logical
	}
	for _, svc := range topology.Services {
		if len(svc.Networks) == 0 {
			needed[services.DefaultNetworkName(topology.Stack)] = "default"
		}
	}

	names := make([]string, 0, len(needed))
	for n := range needed {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, netName := range names {
		_, err := p.client.NetworkInspect(ctx, netName, client.NetworkInspectOptions{})
		if err == nil {
			continue
		}

		_, err = p.client.NetworkCreate(ctx, netName, client.NetworkCreateOptions{
			Driver: topology.Networks[needed[netName]].Driver,
			Labels: map[string]string{
				labelStack: topology.Stack,
				labelRun:   run.String(),
				labelNet:   needed[netName],
			},
		})
		if err != nil {
			if _, ie := p.client.NetworkInspect(ctx, netName, client.NetworkInspectOptions{}); ie != nil {
				return fmt.Errorf("create network %q: %w", netName, err)
			}
		}

		p.log.WithField("network", netName).Info("network created")
	}

	return nil
}

// VolumeSetup ensures every declared volume exists. An existing volume is
// reused untouched: the engine's first-init provisioning only ever runs
// against an empty volume, so re-running up never reapplies credentials.
func (p *DockerPlatform) VolumeSetup(ctx context.Context, run uuid.UUID, topology *models.Topology) error {
	names := make([]string, 0, len(topology.Volumes))
	for n := range topology.Volumes {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, volName := range names {
		name := services.VolumeName(topology.Stack, volName)

		// If it already exists, treat as success.
		_, err := p.client.VolumeInspect(ctx, name, client.VolumeInspectOptions{})
		if err == nil {
			continue
		}
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("inspect volume %q: %w", name, err)
		}

		_, err = p.client.VolumeCreate(ctx, client.VolumeCreateOptions{
			Name:   name,
			Driver: topology.Volumes[volName].Driver,
			Labels: map[string]string{
				labelStack:  topology.Stack,
				labelRun:    run.String(),
				labelVolume: volName, // original logical name
			},
		})
		if err != nil {
			// If it was created concurrently, Docker will return a conflict.
			// Rather than pattern match error strings, re-check inspect.
			if _, ie := p.client.VolumeInspect(ctx, name, client.VolumeInspectOptions{}); ie == nil {
				continue
			}
			return fmt.Errorf("create volume %q: %w", name, err)
		}

		p.log.WithField("volume", name).Info("volume created")
	}

	return nil
}

// SetupService ensures the service's image, replaces any existing
// container of the same name and starts a fresh one attached to its
// networks with the declared aliases.
func (p *DockerPlatform) SetupService(ctx context.Context, run uuid.UUID, topology *models.Topology, serviceName string) error {
	svc := topology.Services[serviceName]
	log := p.log.WithField("service", serviceName)

	imageRef, err := p.EnsureImage(ctx, topology.Stack, serviceName, &svc)
	if err != nil {
		return err
	}

	containerName := services.ContainerName(topology.Stack, serviceName)

	env := []string{}
	envKeys := make([]string, 0, len(svc.Environment))
	for k := range svc.Environment {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		env = append(env, fmt.Sprintf("%s=%s", k, svc.Environment[k]))
	}

	mounts := []mount.Mount{}
	for _, vm := range svc.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: services.VolumeName(topology.Stack, vm.Name),
			Target: vm.MountPath,
		})
	}

	exposed := network.PortSet{}
	portMap := network.PortMap{}
	for _, b := range svc.Ports {
		port, _ := network.PortFrom(uint16(b.ContainerPort), network.IPProtocol(b.Protocol))
		exposed[port] = struct{}{}

		// host publish optional
		if b.HostPort == nil {
			continue
		}

		hostIP := "0.0.0.0"
		if b.HostIP != nil {
			hostIP = *b.HostIP
		}
		addr, err := netip.ParseAddr(hostIP)
		if err != nil {
			return fmt.Errorf("service %q has invalid host_ip %q: %w", serviceName, hostIP, err)
		}

		portMap[port] = append(portMap[port], network.PortBinding{
			HostIP:   addr,
			HostPort: strconv.Itoa(*b.HostPort),
		})
	}

	// Replace an existing container of the same name: stop (best-effort)
	// then force remove, keeping volumes.
	_, err = p.client.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
	if err == nil {
		log.Info("replacing existing container")
		_, _ = p.client.ContainerStop(ctx, containerName, client.ContainerStopOptions{})
		if _, err := p.client.ContainerRemove(ctx, containerName, client.ContainerRemoveOptions{
			Force:         true,
			RemoveVolumes: false,
		}); err != nil {
			return fmt.Errorf("remove existing container %q: %w", containerName, err)
		}
	}

	cCfg := &container.Config{
		Image:        imageRef,
		Env:          env,
		Labels:       containerLabels(topology.Stack, run, serviceName),
		ExposedPorts: exposed,
	}
	if svc.Healthcheck != nil {
		cCfg.Healthcheck = healthConfig(svc.Healthcheck)
	}

	hCfg := &container.HostConfig{
		Mounts:        mounts,
		PortBindings:  portMap,
		RestartPolicy: restartPolicy(svc.Restart),
	}

	endpointConfigs := make(map[string]*network.EndpointSettings)
	if len(svc.Networks) == 0 {
		endpointConfigs[services.DefaultNetworkName(topology.Stack)] = &network.EndpointSettings{}
	}
	for logical, member := range svc.Networks {
		es := &network.EndpointSettings{}
		if len(member.Aliases) > 0 {
			es.Aliases = member.Aliases
		}
		endpointConfigs[services.NetworkName(topology.Stack, logical)] = es
	}

	nCfg := &network.NetworkingConfig{
		EndpointsConfig: endpointConfigs,
	}

	containerID := ""

	created, err := p.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           cCfg,
		HostConfig:       hCfg,
		NetworkingConfig: nCfg,
		Name:             containerName,
		Image:            imageRef,
	})
	if err != nil {
		// Race-safe: if something else created it, inspect and proceed
		inspected, ie := p.client.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
		if ie != nil {
			return fmt.Errorf("create container %q: %w", containerName, err)
		}
		containerID = inspected.Container.ID
	} else {
		containerID = created.ID
	}

	if _, err := p.client.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", containerName, err)
	}

	log.WithField("container", containerName).Info("service started")
	return nil
}

func containerLabels(stack string, run uuid.UUID, service string) map[string]string {
	return map[string]string{
		labelStack:   stack,
		labelRun:     run.String(),
		labelService: service,
	}
}

func restartPolicy(mode models.RestartMode) container.RestartPolicy {
	switch mode {
	case models.RestartModeNever:
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	case models.RestartModeUnlessStopped:
		return container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	case models.RestartModeOnFailure:
		return container.RestartPolicy{Name: container.RestartPolicyOnFailure}
	default:
		return container.RestartPolicy{Name: container.RestartPolicyAlways}
	}
}

func healthConfig(h *models.HealthcheckSpec) *container.HealthConfig {
	cfg := &container.HealthConfig{
		Test:    h.Test,
		Retries: h.Retries,
	}
	// Durations were validated with the manifest; parse errors leave the
	// engine default in place.
	if d, err := time.ParseDuration(h.Interval); err == nil {
		cfg.Interval = d
	}
	if d, err := time.ParseDuration(h.Timeout); err == nil {
		cfg.Timeout = d
	}
	if d, err := time.ParseDuration(h.StartPeriod); err == nil {
		cfg.StartPeriod = d
	}
	return cfg
}

// publish delivers a lifecycle event when reporting is configured.
// Delivery failures are logged and otherwise ignored.
func (p *DockerPlatform) publish(ctx context.Context, stack string, run uuid.UUID, eventType report.EventType, service, detail string) {
	if p.events == nil {
		return
	}
	err := p.events.Publish(ctx, report.Event{
		Stack:   stack,
		Run:     run,
		Type:    eventType,
		Service: service,
		Detail:  detail,
	})
	if err != nil {
		p.log.WithField("event", string(eventType)).Warnf("event delivery failed: %v", err)
	}
}
