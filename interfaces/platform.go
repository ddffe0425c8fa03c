package interfaces

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/watchlog/stackrunner/models"
)

// Platform executes a resolved topology against a container runtime.
type Platform interface {
	// Up creates networks and volumes, builds or pulls images and starts
	// services in dependency order, waiting for each dependency to become
	// ready before starting its dependents.
	Up(ctx context.Context, run uuid.UUID, topology *models.Topology) error

	// Down stops and removes the stack's containers and networks. Volumes
	// are removed only when removeVolumes is set; a plain Down leaves
	// persisted state untouched.
	Down(ctx context.Context, topology *models.Topology, removeVolumes bool) error

	// Status writes one line per stack container with state, health and
	// published ports.
	Status(ctx context.Context, topology *models.Topology, out io.Writer) error

	// Logs streams one service's log output, demultiplexed into the two
	// writers. With follow set it blocks until the context is cancelled.
	Logs(ctx context.Context, topology *models.Topology, service string, follow bool, stdout, stderr io.Writer) error

	// Check validates the topology without touching the runtime.
	Check(topology *models.Topology) error
}
