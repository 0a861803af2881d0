package main

import (
	"github.com/robotalks/corpc/pkg/cli/sh"
	"github.com/robotalks/corpc/pkg/env"

	_ "github.com/robotalks/corpc/pkg/cli/cmds/rpc"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
