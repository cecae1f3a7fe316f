// Command couponimport bulk-loads coupon codes from a gzipped code file
// into the database. The file is fetched from S3 when enabled, with a
// local-disk fallback.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tienda/internal/config"
	"tienda/internal/coupon"
	"tienda/internal/database"
	"tienda/internal/model"
	"tienda/internal/money"
	"tienda/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		path          = flag.String("file", "", "code file to import (gzipped, one code per line)")
		discountType  = flag.String("type", "percentage", "discount type: percentage or fixed")
		discountValue = flag.String("value", "10", "discount value: percent or fixed amount")
		minOrder      = flag.String("min-order", "0", "minimum order amount")
		usageLimit    = flag.Int("usage-limit", 0, "per-coupon usage limit, 0 for unlimited")
		validDays     = flag.Int("valid-days", 0, "days until expiry, 0 for no expiry")
	)
	flag.Parse()

	if *path == "" {
		return fmt.Errorf("-file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := config.NewLogger(cfg.Logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	fileLoader := coupon.NewFileLoader(logger)
	loader := fileLoader
	if cfg.S3.Enabled {
		s3Loader, err := coupon.NewS3Loader(ctx, cfg.S3.Bucket, cfg.S3.Region, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("S3 loader unavailable, using local file system")
		} else {
			loader = coupon.NewFallbackLoader(s3Loader, fileLoader, cfg.S3.Prefix, logger)
		}
	}

	rule, err := buildRule(*discountType, *discountValue, *minOrder, *usageLimit, *validDays)
	if err != nil {
		return err
	}

	importer := coupon.NewImporter(repository.NewCouponRepository(pool, logger), loader, logger)
	created, err := importer.Import(ctx, *path, rule)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d coupons from %s\n", created, *path)
	return nil
}

func buildRule(discountType, discountValue, minOrder string, usageLimit, validDays int) (coupon.ImportRule, error) {
	dt := model.DiscountType(discountType)
	if dt != model.DiscountPercentage && dt != model.DiscountFixed {
		return coupon.ImportRule{}, fmt.Errorf("invalid discount type %q", discountType)
	}

	value, err := money.FromString(discountValue)
	if err != nil {
		return coupon.ImportRule{}, fmt.Errorf("invalid discount value: %w", err)
	}
	min, err := money.FromString(minOrder)
	if err != nil {
		return coupon.ImportRule{}, fmt.Errorf("invalid minimum order amount: %w", err)
	}

	rule := coupon.ImportRule{
		DiscountType:   dt,
		DiscountValue:  value,
		MinOrderAmount: min,
	}
	if usageLimit > 0 {
		rule.UsageLimit = &usageLimit
	}
	if validDays > 0 {
		now := time.Now().UTC()
		until := now.AddDate(0, 0, validDays)
		rule.ValidFrom = &now
		rule.ValidUntil = &until
	}
	return rule, nil
}
