// Command securenet runs a secure messaging node, a broker, and the
// helpers to provision keys and directory entries.
package main

import (
	"context"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
)

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}
