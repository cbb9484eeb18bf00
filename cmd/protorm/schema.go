package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"protorm/internal/dsl"
)

var planLint bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the DDL for the sample catalog",
	Long:  `Print the two-phase DDL (tables, then foreign keys) without connecting to the database.`,
	Example: `  # Show the schema script
  protorm plan

  # Same, under a namespace, with lint findings on stderr
  protorm plan --namespace app --lint`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(nil)
		if err != nil {
			return err
		}
		plan, err := s.Plan()
		if err != nil {
			return schemaError("planning schema", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), plan.SQL())

		if planLint {
			enums, err := loadEnums()
			if err != nil {
				return configError("loading enum catalogs", err)
			}
			r := dsl.NewRegistry(enums)
			if err := r.Attach(sampleTypes()...); err != nil {
				return schemaError("attaching entities", err)
			}
			c, err := r.Freeze()
			if err != nil {
				return schemaError("freezing catalog", err)
			}
			for _, is := range c.Lint() {
				fmt.Fprintf(cmd.ErrOrStderr(), "lint: %s.%s: %s: %s\n", is.Entity, is.Field, is.Code, is.Message)
			}
		}
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Create or verify the schema in the database",
	Long: `Create the tables and constraints of the sample catalog. Existing tables are
verified column by column; a mismatch aborts the build without changes.`,
	Example: `  protorm build --db postgres://localhost/app`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		s, err := newSession(db)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		if err := s.Build(ctx); err != nil {
			return schemaError("building schema", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema ready: %d entities, %d junction tables.\n",
			len(s.Catalog().Names()), len(s.Planner().Junctions()))
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&planLint, "lint", false, "report metadata lint findings on stderr")
}
