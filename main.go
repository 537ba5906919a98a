package main

import "nodesift/internal/cli"

func main() {
	cli.Execute()
}
