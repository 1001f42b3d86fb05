package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
	"github.com/deepharvest/deepharvest/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitLogger()
	m.Run()
}

func TestSeedPriorityByStrategy(t *testing.T) {
	t.Parallel()
	require.Equal(t, float64(0), seedPriority(crawlcore.StrategyBFS))
	require.Equal(t, float64(0), seedPriority(crawlcore.StrategyDFS))
	require.Equal(t, float64(100), seedPriority(crawlcore.StrategyPriority))
}

func TestConfigDigestDeterministic(t *testing.T) {
	t.Parallel()
	cfg := crawlcore.DefaultCrawlConfig()
	cfg.SeedURLs = []string{"https://example.com"}

	first, err := configDigest(cfg)
	require.NoError(t, err)
	second, err := configDigest(cfg)
	require.NoError(t, err)
	require.Equal(t, first, second)

	cfg.MaxDepth = cfg.MaxDepth + 1
	changed, err := configDigest(cfg)
	require.NoError(t, err)
	require.NotEqual(t, first, changed)
}

func TestStartCheckpointLoopStopsOnClose(t *testing.T) {
	t.Parallel()
	a := &App{
		logger:       logging.L,
		checkpointer: crawlcore.NewFileCheckpointer(t.TempDir()+"/checkpoint.json", false, "digest"),
		frontier:     crawlcore.NewLocalFrontier(crawlcore.StrategyBFS, nil, nil),
		cfg:          crawlcore.CrawlConfig{CheckpointInterval: 3600},
	}

	stop := a.startCheckpointLoop(context.Background())
	require.NotNil(t, stop)

	done := make(chan struct{})
	go func() {
		close(stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checkpoint loop did not stop after close")
	}
}
