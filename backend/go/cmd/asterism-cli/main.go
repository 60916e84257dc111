package main

import "asterism/backend/go/cmd/asterism-cli/cmd"

func main() {
	cmd.Execute()
}
