package main

import "whaleinsight/internal/cli"

func main() {
	cli.Execute()
}
