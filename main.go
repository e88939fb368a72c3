package main

import "github.com/codelenshq/oracle/cmd"

func main() {
	cmd.Execute()
}
