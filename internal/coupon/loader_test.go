package coupon

import (
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGzippedCodes(t *testing.T, codes []string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "codes.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	for _, code := range codes {
		_, err := gz.Write([]byte(code + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, gz.Close())

	return path
}

func TestFileLoader_Load(t *testing.T) {
	path := writeGzippedCodes(t, []string{"SUMMER10", "", "  WINTER20  ", "SPRING30"})

	loader := NewFileLoader(zerolog.Nop())
	codes, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SUMMER10", "WINTER20", "SPRING30"}, codes)
}

func TestFileLoader_Load_MissingFile(t *testing.T) {
	loader := NewFileLoader(zerolog.Nop())

	_, err := loader.Load(context.Background(), "/nonexistent/codes.gz")
	assert.Error(t, err)
}

func TestFileLoader_Load_NotGzipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("CODE1\n"), 0o644))

	loader := NewFileLoader(zerolog.Nop())
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

// mockLoader is a scripted Loader for fallback tests.
type mockLoader struct {
	loadFunc func(ctx context.Context, path string) ([]string, error)
}

func (m *mockLoader) Load(ctx context.Context, path string) ([]string, error) {
	return m.loadFunc(ctx, path)
}

func TestFallbackLoader_PrimarySuccess(t *testing.T) {
	primary := &mockLoader{
		loadFunc: func(_ context.Context, path string) ([]string, error) {
			assert.Equal(t, "coupons/batch.gz", path)
			return []string{"S3CODE1"}, nil
		},
	}
	secondary := &mockLoader{
		loadFunc: func(_ context.Context, _ string) ([]string, error) {
			t.Error("secondary loader should not be called when primary succeeds")
			return nil, errors.New("unexpected")
		},
	}

	loader := NewFallbackLoader(primary, secondary, "coupons/", zerolog.Nop())

	codes, err := loader.Load(context.Background(), "batch.gz")
	require.NoError(t, err)
	assert.Equal(t, []string{"S3CODE1"}, codes)
}

func TestFallbackLoader_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &mockLoader{
		loadFunc: func(_ context.Context, _ string) ([]string, error) {
			return nil, errors.New("s3 unavailable")
		},
	}
	secondary := &mockLoader{
		loadFunc: func(_ context.Context, path string) ([]string, error) {
			assert.Equal(t, "batch.gz", path)
			return []string{"LOCALCODE"}, nil
		},
	}

	loader := NewFallbackLoader(primary, secondary, "coupons/", zerolog.Nop())

	codes, err := loader.Load(context.Background(), "batch.gz")
	require.NoError(t, err)
	assert.Equal(t, []string{"LOCALCODE"}, codes)
}
