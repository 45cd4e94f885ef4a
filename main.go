package main

import "github.com/agentic-research/stacgen/cmd"

func main() {
	cmd.Execute()
}
