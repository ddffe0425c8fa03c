package docker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProgressPassesCleanStream(t *testing.T) {
	stream := strings.NewReader(
		`{"status":"Pulling from library/mysql"}` + "\n" +
			`{"status":"Digest: sha256:deadbeef"}` + "\n")
	assert.NoError(t, renderProgress(stream))
}

func TestRenderProgressSurfacesErrorFrame(t *testing.T) {
	stream := strings.NewReader(
		`{"status":"Step 1/4 : FROM scratch"}` + "\n" +
			`{"errorDetail":{"message":"no such file"},"error":"no such file"}` + "\n")

	err := renderProgress(stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
}
