// Command blobcachebench exercises a blobcache.Pool with a synthetic
// workload of small and large blobs, reporting how much time get_blob and
// set_blob spend spilling and re-serving cache files. Internal tooling,
// not a product CLI.
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nbstore/blobcache"
	"github.com/nbstore/blobcache/internal/blobtypes"
	"github.com/nbstore/blobcache/internal/codec"
	"github.com/nbstore/blobcache/internal/config"
	"github.com/nbstore/blobcache/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out *os.File) int {
	fs := flag.NewFlagSet("blobcachebench", flag.ContinueOnError)

	workspaces := fs.IntP("workspaces", "w", 4, "number of simulated workspaces")
	blobsPerWorkspace := fs.IntP("blobs", "b", 50, "number of blobs per workspace")
	largeBlobFraction := fs.Float64("large-fraction", 0.2, "fraction of blobs large enough to spill")
	configPath := fs.String("config", "", "path to a JSONC config file")
	seed := fs.Int64("seed", 1, "random seed for blob sizes")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}

		fmt.Fprintln(out, err)

		return 2
	}

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(out, err)

		return 1
	}

	cfg, _, err := config.Load(workDir, *configPath, os.Environ())
	if err != nil {
		fmt.Fprintln(out, err)

		return 1
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush on exit

	pool, err := blobcache.NewPool(blobcache.Options{
		Store:               store.NewMemory(func() int64 { return time.Now().UnixMilli() }),
		CacheCapacity:       cfg.CacheCapacity,
		SpillThresholdBytes: cfg.SpillThresholdBytes,
		MaxReadBytes:        cfg.MaxReadBytes,
		CacheRootName:       cfg.CacheRootName,
		Logger:              logger,
	})
	if err != nil {
		fmt.Fprintln(out, err)

		return 1
	}
	defer pool.Release()

	report := runWorkload(pool, *workspaces, *blobsPerWorkspace, *largeBlobFraction, *seed, cfg)
	fmt.Fprint(out, report)

	return 0
}

func runWorkload(pool *blobcache.Pool, workspaceCount, blobsPerWorkspace int, largeFraction float64, seed int64, cfg config.Config) string {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // benchmark workload shape, not crypto

	var report bytes.Buffer

	for w := 0; w < workspaceCount; w++ {
		workspaceID := fmt.Sprintf("ws-%d", w)
		dbPath := filepath.Join(os.TempDir(), "blobcachebench", workspaceID, "workspace.sqlite")

		if err := pool.Connect(ctx, workspaceID, dbPath); err != nil {
			fmt.Fprintf(&report, "connect %s: %v\n", workspaceID, err)

			continue
		}

		var setElapsed, getElapsed time.Duration

		for b := 0; b < blobsPerWorkspace; b++ {
			key := fmt.Sprintf("blob-%d", b)
			data := randomBlob(rng, largeFraction, cfg.SpillThresholdBytes)

			start := time.Now()
			_ = pool.SetBlob(ctx, workspaceID, blobPayload(key, data))
			setElapsed += time.Since(start)

			start = time.Now()
			_, _ = pool.GetBlob(ctx, workspaceID, key)
			getElapsed += time.Since(start)
		}

		fmt.Fprintf(&report, "%s: %d blobs, set=%s get=%s\n", workspaceID, blobsPerWorkspace, setElapsed, getElapsed)

		if err := pool.Disconnect(ctx, workspaceID); err != nil {
			fmt.Fprintf(&report, "disconnect %s: %v\n", workspaceID, err)
		}
	}

	return report.String()
}

func blobPayload(key string, data []byte) blobtypes.FfiSetBlob {
	return blobtypes.FfiSetBlob{
		Key:         key,
		DataEncoded: codec.EncodeInline(data),
		Mime:        "application/octet-stream",
	}
}

func randomBlob(rng *rand.Rand, largeFraction float64, spillThreshold int) []byte {
	if rng.Float64() < largeFraction {
		size := spillThreshold + rng.Intn(spillThreshold)
		data := make([]byte, size)
		rng.Read(data)

		return data
	}

	size := rng.Intn(spillThreshold / 4)
	data := make([]byte, size)
	rng.Read(data)

	return data
}
