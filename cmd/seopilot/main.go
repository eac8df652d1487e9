package main

import "seopilot/internal/cli"

func main() {
	cli.Execute()
}
