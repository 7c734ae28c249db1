package main

import "github.com/rewired-gh/meterbot/internal/cli"

func main() {
	cli.Execute()
}
