package main

import (
	"os"

	"github.com/rand/metatot/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
