// stale-purge recursively removes files under a root directory that have
// not been modified for a minimum number of minutes, then removes every
// directory whose contents were entirely removed. The root itself is kept.
//
// Usage:
//
//	# Report what would be removed (files older than 60 minutes)
//	stale-purge -p /srv/incoming
//
//	# Actually remove files older than two hours
//	stale-purge -p /srv/incoming -m 120 -d
//
//	# Run as a daemon on a cron schedule with history and metrics
//	stale-purge -c /etc/stale-purge/config.yaml --daemon
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
