package main

import "beatdeck/cmd"

func main() {
	cmd.Execute()
}
