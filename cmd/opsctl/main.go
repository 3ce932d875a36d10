package main

import "github.com/lalithlochan/backoffice/cmd/opsctl/cmd"

func main() {
	cmd.Execute()
}
