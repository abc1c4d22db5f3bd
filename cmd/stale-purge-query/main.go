// stale-purge-query inspects the purge history database written by
// stale-purge when database_path is configured.
//
//	stale-purge-query recent 10              # 10 most recent events
//	stale-purge-query stats --days 7         # totals for the last week
//	stale-purge-query outcome file_deleted   # events with one outcome
//	stale-purge-query action ERROR           # failures only
//	stale-purge-query path '/srv/incoming/%' # SQL LIKE on the path
//	stale-purge-query largest 10             # largest removed files
//	stale-purge-query runs                   # recent runs
//	stale-purge-query run <run-id>           # every event of one run
//	stale-purge-query maintain --prune-days 90 --vacuum
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
