package services

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/watchlog/stackrunner/models"
)

// DemuxEngineLogs splits a multiplexed engine log stream into stdout and
// stderr. Each frame carries an 8-byte header: stream type, three zero
// bytes, then a big-endian payload size.
func DemuxEngineLogs(dstOut, dstErr io.Writer, src io.Reader) error {
	r := bufio.NewReader(src)

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			// Clean EOF: stream ends
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		streamType := header[0] // 1=stdout, 2=stderr
		size := binary.BigEndian.Uint32(header[4:8])

		if size == 0 {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}

		var w io.Writer
		switch streamType {
		case 1:
			w = dstOut
		case 2:
			w = dstErr
		default:
			// Unknown stream, treat as stdout to avoid dropping data
			w = dstOut
		}

		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write engine log payload: %w", err)
		}
	}
}

func safeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// Engine object names are stack-scoped and deterministic so that a later
// invocation finds the same objects again.

func ContainerName(stack, service string) string {
	return fmt.Sprintf("%s-%s", safeName(stack), safeName(service))
}

func NetworkName(stack, network string) string {
	return fmt.Sprintf("%s-%s", safeName(stack), safeName(network))
}

func VolumeName(stack, volume string) string {
	return fmt.Sprintf("%s-%s", safeName(stack), safeName(volume))
}

// DefaultNetworkName is the network services join when they declare no
// memberships of their own.
func DefaultNetworkName(stack string) string {
	return fmt.Sprintf("%s-default", safeName(stack))
}

// ImageTag names the image built from a service's build context.
func ImageTag(stack, service string) string {
	return fmt.Sprintf("%s-%s:latest", safeName(stack), safeName(service))
}

func CheckDependsOnServicesExist(services map[string]models.ServiceSpec) error {
	// Stable iteration (nicer error messages)
	keys := make([]string, 0, len(services))
	for k := range services {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, svcKey := range keys {
		for _, depKey := range services[svcKey].DependsOn {
			if depKey == svcKey {
				return fmt.Errorf("service %q depends_on itself", svcKey)
			}
			if _, ok := services[depKey]; !ok {
				return fmt.Errorf("service %q depends_on %q, but %q does not exist", svcKey, depKey, depKey)
			}
		}
	}

	return nil
}

func CheckCircularDependencies(services map[string]models.ServiceSpec) error {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]uint8, len(services))
	parent := make(map[string]string, len(services))

	var dfs func(string) error
	dfs = func(node string) error {
		switch state[node] {
		case visiting:
			// Found a back-edge; reconstruct cycle path using parent pointers.
			cycle := reconstructCycle(parent, node)
			return fmt.Errorf("circular dependency detected: %s", cycle)
		case visited:
			return nil
		}

		state[node] = visiting

		for _, dep := range services[node].DependsOn {
			// Existence is checked elsewhere; skip unknown just in case.
			if _, ok := services[dep]; !ok {
				continue
			}
			if _, ok := parent[dep]; !ok {
				parent[dep] = node
			}
			if err := dfs(dep); err != nil {
				return err
			}
		}

		state[node] = visited
		return nil
	}

	keys := make([]string, 0, len(services))
	for k := range services {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, node := range keys {
		if state[node] == unvisited {
			if err := dfs(node); err != nil {
				return err
			}
		}
	}

	return nil
}

func reconstructCycle(parent map[string]string, start string) string {
	// Walk parent pointers until we repeat a node.
	seen := map[string]bool{start: true}
	path := []string{start}

	cur := start
	for {
		p, ok := parent[cur]
		if !ok {
			// Fallback; shouldn't happen with a proper parent chain
			break
		}
		path = append(path, p)
		if seen[p] {
			// Close cycle at p
			break
		}
		seen[p] = true
		cur = p
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	// Ensure last equals first for readability
	if len(path) > 0 && path[len(path)-1] != path[0] {
		path = append(path, path[0])
	}

	out := ""
	for i, s := range path {
		if i > 0 {
			out += " -> "
		}
		out += fmt.Sprintf("%q", s)
	}
	return out
}

// StartOrder returns the service names ordered so that every dependency
// precedes its dependents. Existence and acyclicity must have been checked
// first.
func StartOrder(services map[string]models.ServiceSpec) ([]string, error) {
	order := make([]string, 0, len(services))
	started := make(map[string]struct{}, len(services))

	remaining := make(map[string]models.ServiceSpec, len(services))
	for k, v := range services {
		remaining[k] = v
	}

	for len(remaining) > 0 {
		progressed := false

		keys := make([]string, 0, len(remaining))
		for k := range remaining {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, name := range keys {
			ready := true
			for _, dep := range remaining[name].DependsOn {
				if _, ok := started[dep]; !ok {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			order = append(order, name)
			started[name] = struct{}{}
			delete(remaining, name)
			progressed = true
		}

		if !progressed {
			return nil, fmt.Errorf("dependency order cannot be resolved (circular depends_on)")
		}
	}

	return order, nil
}
