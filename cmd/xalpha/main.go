package main

import "xalpha/internal/cli"

func main() {
	cli.Execute()
}
