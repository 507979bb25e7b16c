package main

import "racereg/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
