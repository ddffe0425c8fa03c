package docker

import (
	"fmt"

	"github.com/watchlog/stackrunner/models"
	"github.com/watchlog/stackrunner/services"
)

// Check validates the topology without touching the engine: structural
// manifest invariants, dependency references and cycles, plus the
// credential-pair drift warning. Up runs the same checks before creating
// anything.
func (p *DockerPlatform) Check(topology *models.Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}
	if err := services.CheckDependsOnServicesExist(topology.Services); err != nil {
		return err
	}
	if err := services.CheckCircularDependencies(topology.Services); err != nil {
		return err
	}

	for _, warning := range CredentialDriftWarnings(topology) {
		p.log.Warn(warning)
	}

	return nil
}

// The database service is provisioned from one variable pair while the
// backend consumes a separately named pair; nothing enforces that the two
// stay equal. Split credentials are legal, so a mismatch is surfaced as a
// warning, never an error.
var credentialPairs = [][2]string{
	{"DB_USER", "DB_USER_BACKEND"},
	{"DB_PASSWORD", "DB_PASSWORD_BACKEND"},
}

// CredentialDriftWarnings compares the resolved host-level value of each
// known variable pair and returns a human-readable warning per mismatch.
// The comparison happens on the host variables rather than container
// environment keys: the manifest maps each variable onto whatever name the
// image expects (e.g. MYSQL_USER), so only the ${VAR} references seen
// during resolution identify the pair.
func CredentialDriftWarnings(topology *models.Topology) []string {
	var warnings []string

	for _, pair := range credentialPairs {
		provisioned, okP := topology.ResolvedVars[pair[0]]
		consumed, okC := topology.ResolvedVars[pair[1]]
		if !okP || !okC {
			continue
		}
		if provisioned != consumed {
			warnings = append(warnings, fmt.Sprintf(
				"credential drift: ${%s} and ${%s} resolve to different values; the backend will fail to authenticate against the provisioned database unless this is intentional",
				pair[0], pair[1]))
		}
	}

	return warnings
}
