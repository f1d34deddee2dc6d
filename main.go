package main

import "opsrun/cmd"

func main() {
	cmd.Execute()
}
