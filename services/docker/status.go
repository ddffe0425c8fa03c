package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/moby/moby/client"

	"github.com/watchlog/stackrunner/models"
)

// Status lists the stack's containers (running or not) with their state,
// health and published ports.
func (p *DockerPlatform) Status(ctx context.Context, topology *models.Topology, out io.Writer) error {
	f := make(client.Filters).
		Add("label", labelStack+"="+topology.Stack)

	containers, err := p.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return fmt.Errorf("list stack containers (stack=%s): %w", topology.Stack, err)
	}

	type row struct {
		service, state, health, ports string
	}
	rows := make([]row, 0, len(containers.Items))

	for _, c := range containers.Items {
		service := c.Labels[labelService]

		health := "-"
		inspect, err := p.client.ContainerInspect(ctx, c.ID, client.ContainerInspectOptions{})
		if err == nil && inspect.Container.State != nil && inspect.Container.State.Health != nil {
			health = string(inspect.Container.State.Health.Status)
		}

		ports := make([]string, 0, len(c.Ports))
		for _, pt := range c.Ports {
			if pt.PublicPort == 0 {
				continue
			}
			ports = append(ports, fmt.Sprintf("%d->%d/%s", pt.PublicPort, pt.PrivatePort, pt.Type))
		}
		sort.Strings(ports)

		portCol := strings.Join(ports, ", ")
		if portCol == "" {
			portCol = "-"
		}

		rows = append(rows, row{
			service: service,
			state:   string(c.State),
			health:  health,
			ports:   portCol,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].service < rows[j].service })

	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE\tHEALTH\tPORTS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.service, r.state, r.health, r.ports)
	}
	return w.Flush()
}
