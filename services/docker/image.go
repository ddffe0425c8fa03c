package docker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/moby/moby/client"

	"github.com/watchlog/stackrunner/models"
	"github.com/watchlog/stackrunner/services"
)

// EnsureImage makes the service's image available locally and returns the
// reference to run. Build-context services are always rebuilt (the engine
// cache makes unchanged rebuilds cheap); image services are pulled only
// when missing.
func (p *DockerPlatform) EnsureImage(ctx context.Context, stack, serviceName string, svc *models.ServiceSpec) (string, error) {
	if svc.Build != nil {
		return p.buildImage(ctx, stack, serviceName, svc.Build)
	}

	_, err := p.client.ImageInspect(ctx, svc.Image)
	if err == nil {
		return svc.Image, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect image %q: %w", svc.Image, err)
	}

	p.log.WithField("service", serviceName).WithField("image", svc.Image).Info("pulling image")

	rc, err := p.client.ImagePull(ctx, svc.Image, client.ImagePullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull image %q: %w", svc.Image, err)
	}
	defer rc.Close()

	if err := renderProgress(rc); err != nil {
		return "", fmt.Errorf("pull image %q: %w", svc.Image, err)
	}

	return svc.Image, nil
}

func (p *DockerPlatform) buildImage(ctx context.Context, stack, serviceName string, build *models.BuildSpec) (string, error) {
	tag := services.ImageTag(stack, serviceName)

	p.log.WithField("service", serviceName).
		WithField("context", build.Context).
		WithField("tag", tag).
		Info("building image")

	buildCtx, err := archive.TarWithOptions(build.Context, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("tar build context %q: %w", build.Context, err)
	}
	defer buildCtx.Close()

	resp, err := p.client.ImageBuild(ctx, buildCtx, client.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: build.Dockerfile,
		Remove:     true,
		Labels: map[string]string{
			labelStack:   stack,
			labelService: serviceName,
		},
	})
	if err != nil {
		return "", fmt.Errorf("build image %q: %w", tag, err)
	}
	defer resp.Body.Close()

	if err := renderProgress(resp.Body); err != nil {
		return "", fmt.Errorf("build image %q: %w", tag, err)
	}

	return tag, nil
}

// renderProgress drains an engine progress stream to stderr. A jsonmessage
// error frame (e.g. a failed build step) surfaces as the returned error.
func renderProgress(r io.Reader) error {
	return jsonmessage.DisplayJSONMessagesStream(r, os.Stderr, 0, false, nil)
}
