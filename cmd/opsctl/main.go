// Command opsctl is the farm control plane's operator CLI: purge,
// lake-move-partition, and replay-dead-letter, each dry-run by default.
package main

import "github.com/fieldops/controlplane/internal/opscli"

var version = "dev"

func main() {
	opscli.Execute(version)
}
