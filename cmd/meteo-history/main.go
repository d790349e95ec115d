package main

import "github.com/pfrederiksen/meteo-history/internal/cli"

func main() {
	cli.Execute()
}
