package main

import (
	"trade-sync/internal/cli"
)

func main() {
	cli.Execute()
}
