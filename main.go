package main

import "github.com/openreply/pagegate/cmd"

func main() {
	cmd.Execute()
}
