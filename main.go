package main

import "github.com/heliocloud-data/registry/internal/cmd"

func main() {
	cmd.Execute()
}
