package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTestConfig(t, `
runs:
  - name: tiny
    vectors: 100
    dimension: 8
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Runs, 1)

	rc := cfg.Runs[0]
	assert.Equal(t, "tiny", rc.Name)
	assert.Equal(t, 100, rc.Queries)
	assert.Equal(t, 10, rc.TopK)
	assert.Equal(t, 32, rc.MaxDegree)
	assert.Equal(t, float32(1.2), rc.Alpha)
}

func TestLoadConfigRejectsEmptyAndInvalid(t *testing.T) {
	_, err := loadConfig(writeTestConfig(t, `runs: []`))
	require.Error(t, err)

	_, err = loadConfig(writeTestConfig(t, `
runs:
  - name: bad
    vectors: 0
    dimension: 8
`))
	require.Error(t, err)
}

func TestRunWritesOutputsAndResumes(t *testing.T) {
	configPath := writeTestConfig(t, `
runs:
  - name: small
    vectors: 120
    dimension: 8
    queries: 5
    top_k: 5
    max_degree: 8
    beam_width: 40
    seed: 7
`)
	output := filepath.Join(t.TempDir(), "results", "r1")
	logger := slog.New(slog.DiscardHandler)

	require.NoError(t, run(context.Background(), configPath, output, logger))

	for _, suffix := range []string{".csv", ".json", ".checkpoint.json"} {
		_, err := os.Stat(output + suffix)
		require.NoError(t, err, suffix)
	}

	// Second invocation resumes from the checkpoint and re-runs nothing;
	// results are unchanged.
	before, err := os.ReadFile(output + ".json")
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), configPath, output, logger))
	after, err := os.ReadFile(output + ".json")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// executeRun generates its own random vectors and queries; only the number of
// vectors is taken from the list below.
func TestTinyExactRunRecall(t *testing.T) {
	vectors := [][]float32{{0, 0}, {1, 0}, {0, 1}, {5, 5}}
	cp, err := loadCheckpoint(filepath.Join(t.TempDir(), "missing.checkpoint.json"))
	require.NoError(t, err)
	assert.Empty(t, cp.Completed)

	rc := RunConfig{Name: "x", Vectors: len(vectors), Dimension: 2, Queries: 1, TopK: 1,
		MaxDegree: 2, BeamWidth: 4, Alpha: 1.0, Overflow: 1.0, PQClusters: 4, Seed: 1}
	result, err := executeRun(context.Background(), rc, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Recall, 0.001, "tiny exact run should have perfect recall")
}
