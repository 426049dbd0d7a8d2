// Command migrate-gen generates SQL migration files for the medallion orchestration metadata tables.
//
// Usage:
//
//	go run github.com/getpup/medallion/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/medallion/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/medallion/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/medallion/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/medallion/cmd/migrate-gen -adapter sqlite -output migrations
//	go run github.com/getpup/medallion/cmd/migrate-gen -adapter sqlserver -output migrations
//
// Customize table names:
//
//	go run github.com/getpup/medallion/cmd/migrate-gen -prefix etl_ -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/medallion/pkg/migrations"
)

func main() {
	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, sqlite, or sqlserver")
		outputFolder   = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		tablePrefix    = flag.String("prefix", "medallion_", "Prefix prepended to every table name")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.TablePrefix = *tablePrefix

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.Generate(&config, *adapter); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}
