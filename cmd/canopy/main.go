package main

import "github.com/world-in-progress/canopy/cmd/canopy/internal/command"

func main() {
	command.Execute()
}
