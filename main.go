package main

import "github.com/pders01/snapsync/cmd"

func main() {
	cmd.Execute()
}
