package main

import "github.com/certward/certward/cmd/certward/cmd"

func main() {
	cmd.Execute()
}
