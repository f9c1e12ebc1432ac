package main

import "tap-reputation-poller/internal/cli"

func main() {
	cli.Execute()
}
