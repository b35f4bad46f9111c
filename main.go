package main

import (
	"github.com/headlamp-k8s/headlamp-sub003/cmd"
)

func main() {
	cmd.Execute()
}
