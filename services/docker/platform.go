package docker

import (
	"github.com/moby/moby/client"
	"github.com/sirupsen/logrus"

	"github.com/watchlog/stackrunner/services/report"
)

// Label keys used to scope engine objects to a stack. Teardown and status
// operate purely on these labels, never on name guessing.
const (
	labelStack   = "stackrunner.stack"
	labelRun     = "stackrunner.run"
	labelService = "stackrunner.service"
	labelNet     = "stackrunner.net"
	labelVolume  = "stackrunner.volume"
)

// DockerPlatform implements interfaces.Platform for plain Docker (Engine API).
type DockerPlatform struct {
	client *client.Client
	events *report.Reporter // nil when event reporting is disabled
	log    *logrus.Entry
}

// NewDockerPlatform initializes the Docker platform using environment
// variables (e.g. DOCKER_HOST) and API version negotiation.
func NewDockerPlatform(events *report.Reporter) (*DockerPlatform, error) {
	c, err := client.New(
		client.FromEnv,
	)
	if err != nil {
		return nil, err
	}

	return &DockerPlatform{
		client: c,
		events: events,
		log:    logrus.WithField("platform", "docker"),
	}, nil
}
