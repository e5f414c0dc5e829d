package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/annex"
	"github.com/hupe1980/annex/blobstore"
	"github.com/hupe1980/annex/codec"
	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/graph"
	"github.com/hupe1980/annex/vectorstore"
)

// RunResult is one measured configuration.
type RunResult struct {
	Name        string  `json:"name"`
	Vectors     int     `json:"vectors"`
	Dimension   int     `json:"dimension"`
	TopK        int     `json:"top_k"`
	Recall      float64 `json:"recall"`
	BuildMillis int64   `json:"build_ms"`
	QPS         float64 `json:"qps"`
}

// checkpoint records completed run names so an interrupted sweep resumes
// where it stopped.
type checkpoint struct {
	Codec     string      `json:"codec"`
	Completed []string    `json:"completed"`
	Results   []RunResult `json:"results"`
}

func run(ctx context.Context, configPath, outputPath string, logger *slog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	cp, err := loadCheckpoint(outputPath + ".checkpoint.json")
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(cp.Completed))
	for _, name := range cp.Completed {
		done[name] = true
	}

	var limiter *rate.Limiter
	if cfg.MaxQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxQPS), 1)
	}

	for _, rc := range cfg.Runs {
		if done[rc.Name] {
			logger.Info("skipping completed run", "run", rc.Name)
			continue
		}
		logger.Info("starting run", "run", rc.Name, "vectors", rc.Vectors, "dim", rc.Dimension)

		result, err := executeRun(ctx, rc, limiter)
		if err != nil {
			return fmt.Errorf("run %q: %w", rc.Name, err)
		}
		logger.Info("finished run", "run", rc.Name, "recall", result.Recall, "qps", result.QPS)

		cp.Completed = append(cp.Completed, rc.Name)
		cp.Results = append(cp.Results, *result)
		if err := writeOutputs(outputPath, cp); err != nil {
			return err
		}
	}

	if cfg.PublishDir != "" {
		if err := publish(ctx, cfg.PublishDir, outputPath); err != nil {
			return err
		}
	}
	return nil
}

func executeRun(ctx context.Context, rc RunConfig, limiter *rate.Limiter) (*RunResult, error) {
	rng := rand.New(rand.NewSource(rc.Seed))
	vectors := make([][]float32, rc.Vectors)
	for i := range vectors {
		v := make([]float32, rc.Dimension)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
	}
	ravv := vectorstore.NewMemorySource(vectors, rc.Dimension)

	opts := []annex.Option{
		annex.WithMaxDegree(rc.MaxDegree),
		annex.WithBeamWidth(rc.BeamWidth),
		annex.WithAlpha(rc.Alpha),
		annex.WithNeighborOverflow(rc.Overflow),
		annex.WithBuildSeed(rc.Seed),
	}
	if rc.Hierarchy {
		opts = append(opts, annex.WithHierarchy())
	}
	if rc.PQSubspaces > 0 {
		opts = append(opts, annex.WithPQ(rc.PQSubspaces, rc.PQClusters))
	}

	buildStart := time.Now()
	ix, err := annex.Build(ctx, ravv, opts...)
	if err != nil {
		return nil, err
	}
	buildMillis := time.Since(buildStart).Milliseconds()

	queries := make([][]float32, rc.Queries)
	for i := range queries {
		q := make([]float32, rc.Dimension)
		for j := range q {
			q[j] = rng.Float32()
		}
		queries[i] = q
	}

	var totalRecall float64
	searchStart := time.Now()
	for _, q := range queries {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		result, err := ix.Search(q, rc.TopK)
		if err != nil {
			return nil, err
		}
		totalRecall += recallAgainstBruteForce(vectors, q, rc.TopK, result.Nodes)
	}
	elapsed := time.Since(searchStart).Seconds()

	return &RunResult{
		Name:        rc.Name,
		Vectors:     rc.Vectors,
		Dimension:   rc.Dimension,
		TopK:        rc.TopK,
		Recall:      totalRecall / float64(len(queries)),
		BuildMillis: buildMillis,
		QPS:         float64(len(queries)) / elapsed,
	}, nil
}

func recallAgainstBruteForce(vectors [][]float32, q []float32, topK int, predicted []graph.NodeScore) float64 {
	type pair struct {
		ord   int
		score float32
	}
	pairs := make([]pair, len(vectors))
	for i, v := range vectors {
		pairs[i] = pair{ord: i, score: distance.MetricL2.Compare(q, v)}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	truth := make(map[int]bool, topK)
	for i := 0; i < topK && i < len(pairs); i++ {
		truth[pairs[i].ord] = true
	}
	hits := 0
	for _, ns := range predicted {
		if truth[ns.Node] {
			hits++
		}
	}
	return float64(hits) / float64(topK)
}

func loadCheckpoint(path string) (*checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &checkpoint{Codec: codec.Default.Name()}, nil
	}
	if err != nil {
		return nil, err
	}
	var cp checkpoint
	c, ok := codec.ByName(codecNameOf(data))
	if !ok {
		c = codec.Default
	}
	if err := c.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

func codecNameOf(data []byte) string {
	var probe struct {
		Codec string `json:"codec"`
	}
	if err := codec.Default.Unmarshal(data, &probe); err == nil && probe.Codec != "" {
		return probe.Codec
	}
	return codec.Default.Name()
}

func writeOutputs(outputPath string, cp *checkpoint) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// JSON results.
	jsonData, err := codec.Default.Marshal(cp.Results)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath+".json", jsonData, 0o644); err != nil {
		return err
	}

	// CSV results.
	f, err := os.Create(outputPath + ".csv")
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"name", "vectors", "dimension", "top_k", "recall", "build_ms", "qps"})
	for _, r := range cp.Results {
		_ = w.Write([]string{
			r.Name,
			fmt.Sprint(r.Vectors),
			fmt.Sprint(r.Dimension),
			fmt.Sprint(r.TopK),
			fmt.Sprintf("%.4f", r.Recall),
			fmt.Sprint(r.BuildMillis),
			fmt.Sprintf("%.1f", r.QPS),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Checkpoint.
	cpData, err := codec.Default.Marshal(cp)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath+".checkpoint.json", cpData, 0o644)
}

// publish copies the result files into a blob store directory.
func publish(ctx context.Context, dir, outputPath string) error {
	store, err := blobstore.NewLocalStore(dir)
	if err != nil {
		return err
	}
	for _, suffix := range []string{".json", ".csv", ".checkpoint.json"} {
		f, err := os.Open(outputPath + suffix)
		if err != nil {
			return err
		}
		name := filepath.Base(outputPath) + suffix
		if err := store.Put(ctx, name, f, -1); err != nil {
			_ = f.Close()
			return err
		}
		_ = f.Close()
	}
	return nil
}
