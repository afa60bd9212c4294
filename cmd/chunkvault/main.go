package main

import "github.com/kenneth/chunkvault/cmd/chunkvault/cmd"

func main() {
	cmd.Execute()
}
