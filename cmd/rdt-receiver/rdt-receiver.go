package main

import "github.com/skycoin/rdt/cmd/rdt-receiver/commands"

func main() {
	commands.Execute()
}
