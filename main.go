package main

import "socketbot/cmd"

func main() {
	cmd.Execute()
}
