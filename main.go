package main

import "github.com/kevinzhu/tradekeeper/cmd"

func main() {
	cmd.Execute()
}
