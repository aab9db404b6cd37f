package main

import "github.com/pyrohost/prometheus/cmd"

func main() {
	cmd.Execute()
}
