package services

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchlog/stackrunner/models"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, []byte(payload)...)
}

func TestDemuxEngineLogs(t *testing.T) {
	var src bytes.Buffer
	src.Write(frame(1, "out line\n"))
	src.Write(frame(2, "err line\n"))
	src.Write(frame(1, "more out\n"))

	var stdout, stderr bytes.Buffer
	require.NoError(t, DemuxEngineLogs(&stdout, &stderr, &src))

	assert.Equal(t, "out line\nmore out\n", stdout.String())
	assert.Equal(t, "err line\n", stderr.String())
}

func TestDemuxEngineLogsUnknownStreamGoesToStdout(t *testing.T) {
	var src bytes.Buffer
	src.Write(frame(7, "mystery"))

	var stdout, stderr bytes.Buffer
	require.NoError(t, DemuxEngineLogs(&stdout, &stderr, &src))

	assert.Equal(t, "mystery", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestDemuxEngineLogsTruncatedHeaderIsCleanEOF(t *testing.T) {
	src := bytes.NewReader([]byte{1, 0, 0})

	var stdout, stderr bytes.Buffer
	assert.NoError(t, DemuxEngineLogs(&stdout, &stderr, src))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "watchlog-backend", ContainerName("watchlog", "backend"))
	assert.Equal(t, "watchlog-internal", NetworkName("watchlog", "internal"))
	assert.Equal(t, "watchlog-db-data", VolumeName("Watchlog", " db-data "))
	assert.Equal(t, "watchlog-default", DefaultNetworkName("watchlog"))
	assert.Equal(t, "watchlog-backend:latest", ImageTag("watchlog", "backend"))
}

func TestCheckDependsOnServicesExist(t *testing.T) {
	ok := map[string]models.ServiceSpec{
		"db":      {},
		"backend": {DependsOn: []string{"db"}},
	}
	assert.NoError(t, CheckDependsOnServicesExist(ok))

	missing := map[string]models.ServiceSpec{
		"backend": {DependsOn: []string{"db"}},
	}
	err := CheckDependsOnServicesExist(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db" does not exist`)

	self := map[string]models.ServiceSpec{
		"backend": {DependsOn: []string{"backend"}},
	}
	err = CheckDependsOnServicesExist(self)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends_on itself")
}

func TestCheckCircularDependencies(t *testing.T) {
	acyclic := map[string]models.ServiceSpec{
		"db":       {},
		"backend":  {DependsOn: []string{"db"}},
		"frontend": {DependsOn: []string{"backend"}},
	}
	assert.NoError(t, CheckCircularDependencies(acyclic))

	cyclic := map[string]models.ServiceSpec{
		"a": {DependsOn: []string{"b"}},
		"b": {DependsOn: []string{"c"}},
		"c": {DependsOn: []string{"a"}},
	}
	err := CheckCircularDependencies(cyclic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency detected")
}

func TestStartOrder(t *testing.T) {
	specs := map[string]models.ServiceSpec{
		"db":       {},
		"cache":    {},
		"backend":  {DependsOn: []string{"db", "cache"}},
		"frontend": {DependsOn: []string{"backend"}},
	}

	order, err := StartOrder(specs)
	require.NoError(t, err)
	require.Len(t, order, 4)

	position := map[string]int{}
	for i, name := range order {
		position[name] = i
	}
	assert.Less(t, position["db"], position["backend"])
	assert.Less(t, position["cache"], position["backend"])
	assert.Less(t, position["backend"], position["frontend"])
}

func TestStartOrderRejectsCycle(t *testing.T) {
	specs := map[string]models.ServiceSpec{
		"a": {DependsOn: []string{"b"}},
		"b": {DependsOn: []string{"a"}},
	}
	_, err := StartOrder(specs)
	assert.Error(t, err)
}
