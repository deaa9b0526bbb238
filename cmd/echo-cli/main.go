package main

import (
	"fmt"
	"os"

	"github.com/fzft/go-reactor/cmd"
)

func main() {
	cli := cmd.NewEchoCli()
	if err := cli.ParseArgs(os.Args[1:]); err != nil {
		cli.Usage(true)
		os.Exit(1)
	}
	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}
