package coupon

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// fileLoader implements Loader for gzipped code files on local disk.
type fileLoader struct {
	logger zerolog.Logger
}

// NewFileLoader creates a new file-based coupon code loader.
func NewFileLoader(logger zerolog.Logger) Loader {
	return &fileLoader{
		logger: logger.With().Str("component", "coupon-loader").Logger(),
	}
}

// Load reads a gzipped code file, one coupon code per line. Blank lines
// are skipped.
func (l *fileLoader) Load(ctx context.Context, path string) ([]string, error) {
	l.logger.Info().Str("file", path).Msg("loading coupon code file")

	file, err := os.Open(path)
	if err != nil {
		l.logger.Error().Err(err).Str("file", path).Msg("failed to open coupon file")
		return nil, fmt.Errorf("failed to open coupon file %s: %w", path, err)
	}
	defer file.Close()

	codes, err := readCodes(ctx, file)
	if err != nil {
		l.logger.Error().Err(err).Str("file", path).Msg("error reading coupon file")
		return nil, fmt.Errorf("error reading coupon file %s: %w", path, err)
	}

	l.logger.Info().
		Str("file", path).
		Int("codes_loaded", len(codes)).
		Msg("coupon code file loaded")

	return codes, nil
}

// readCodes decompresses and scans a gzipped code stream.
func readCodes(ctx context.Context, r io.Reader) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var codes []string
	line := 0
	for scanner.Scan() {
		if line%100_000 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		line++

		code := strings.TrimSpace(scanner.Text())
		if code != "" {
			codes = append(codes, code)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return codes, nil
}

// fallbackLoader tries the primary loader and falls back to the secondary
// on failure. Used to prefer S3 with a local-disk fallback.
type fallbackLoader struct {
	primary   Loader
	secondary Loader
	prefix    string
	logger    zerolog.Logger
}

// NewFallbackLoader creates a loader that prefixes keys for the primary
// and falls back to the secondary loader when the primary fails.
func NewFallbackLoader(primary, secondary Loader, prefix string, logger zerolog.Logger) Loader {
	return &fallbackLoader{
		primary:   primary,
		secondary: secondary,
		prefix:    prefix,
		logger:    logger.With().Str("component", "coupon-fallback-loader").Logger(),
	}
}

// Load tries the primary loader with the configured prefix first.
func (l *fallbackLoader) Load(ctx context.Context, path string) ([]string, error) {
	codes, err := l.primary.Load(ctx, l.prefix+path)
	if err == nil {
		return codes, nil
	}

	l.logger.Warn().
		Err(err).
		Str("path", path).
		Msg("primary coupon loader failed, falling back")

	return l.secondary.Load(ctx, path)
}
