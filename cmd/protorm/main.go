// Command protorm derives a PostgreSQL schema from annotated Go entity types
// and serves prototype-based register/search/update/delete over HTTP.
//
// Commands:
//   - plan: print the DDL for the sample catalog without touching the database
//   - build: create (or verify) the schema in the configured database
//   - serve: build the schema and run the HTTP API
//   - config show: print the effective configuration
//
// Configuration comes from flags, PROTORM_* environment variables and
// protorm.yaml, in that order of precedence.
package main

func main() {
	Execute()
}
