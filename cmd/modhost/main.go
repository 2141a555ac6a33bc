package main

import "github.com/tansive/modhost/internal/cli"

func main() {
	cli.Execute()
}
