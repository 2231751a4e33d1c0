package main

import "github.com/mbd888/accountcheck/internal/cli"

func main() {
	cli.Execute()
}
