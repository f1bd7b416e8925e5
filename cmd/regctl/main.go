package main

import "regci/cmd/cli"

func main() {
	cli.Execute()
}
