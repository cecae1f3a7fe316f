// Generates a sample gzipped coupon code file for local development.
// Feed the output to the couponimport command.
package main

import (
	"compress/gzip"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

func main() {
	dataDir := "data/coupons"

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create directory: %v", err)
	}

	codes := []string{
		"BIENVENIDO10",
		"VERANO2026",
		"INVIERNO2026",
		"ENVIOGRATIS",
		"PRIMERACOMPRA",
		"MATE15",
	}

	path := filepath.Join(dataDir, "codes.gz")
	file, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	for _, code := range codes {
		if _, err := fmt.Fprintln(gz, code); err != nil {
			log.Fatalf("Failed to write code: %v", err)
		}
	}
	if err := gz.Close(); err != nil {
		log.Fatalf("Failed to close gzip writer: %v", err)
	}

	fmt.Printf("Wrote %d codes to %s\n", len(codes), path)
}
