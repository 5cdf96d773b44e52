// Command etl builds the immigration and demographics star schema.
package main

import (
	"os"

	"duck-etl/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
