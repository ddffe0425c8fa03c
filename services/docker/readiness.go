package docker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/watchlog/stackrunner/models"
	"github.com/watchlog/stackrunner/services"

	// postgres readiness probe driver
	_ "github.com/lib/pq"
)

const (
	readyDelay       = time.Second
	readyMaxDelay    = 15 * time.Second
	readyMaxDuration = 2 * time.Minute
)

// WaitReady blocks until the service reports ready, with exponential
// backoff bounded by readyMaxDuration. Declared startup ordering alone
// only guarantees the dependency's container was started, not that it
// accepts connections; this closes that gap.
//
// Readiness is, in order of preference: the declared probe, the engine
// health state when a healthcheck is configured, otherwise the running
// state.
func (p *DockerPlatform) WaitReady(ctx context.Context, topology *models.Topology, serviceName string) error {
	svc := topology.Services[serviceName]
	log := p.log.WithField("service", serviceName)

	return retry.Call(retry.CallArgs{
		Func: func() error {
			return p.probeOnce(ctx, topology.Stack, serviceName, &svc)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		NotifyFunc: func(err error, attempt int) {
			log.WithField("attempt", attempt).Debugf("not ready yet: %v", err)
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       readyDelay,
		MaxDelay:    readyMaxDelay,
		MaxDuration: readyMaxDuration,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
}

func (p *DockerPlatform) probeOnce(ctx context.Context, stack, serviceName string, svc *models.ServiceSpec) error {
	if svc.Readiness != nil {
		return Probe(ctx, svc.Readiness)
	}

	containerName := services.ContainerName(stack, serviceName)
	inspect, err := p.client.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
	if err != nil {
		return fmt.Errorf("inspect container %q: %w", containerName, err)
	}

	state := inspect.Container.State
	if state == nil {
		return fmt.Errorf("container %q has no state yet", containerName)
	}
	if state.Health != nil {
		if state.Health.Status == container.Healthy {
			return nil
		}
		return fmt.Errorf("container %q health is %q", containerName, state.Health.Status)
	}
	if state.Running {
		return nil
	}
	return fmt.Errorf("container %q is %q", containerName, state.Status)
}

// Probe runs a single readiness attempt for a declared probe spec.
func Probe(ctx context.Context, spec *models.ProbeSpec) error {
	timeout := spec.ProbeTimeout()

	switch spec.Type {
	case models.ProbeTypeTCP:
		return probeTCP(spec.Address, timeout)
	case models.ProbeTypeHTTP:
		return probeHTTP(ctx, spec.URL, timeout)
	case models.ProbeTypePostgres:
		return probePostgres(ctx, spec.DSN, timeout)
	default:
		return fmt.Errorf("unknown probe type %q", spec.Type)
	}
}

func probeTCP(address string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return fmt.Errorf("dial %q: %w", address, err)
	}
	return conn.Close()
}

func probeHTTP(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("get %q: status %d", url, resp.StatusCode)
	}
	return nil
}

func probePostgres(ctx context.Context, dsn string, timeout time.Duration) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open postgres connection: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
