package main

import (
	"os"

	"github.com/JonMunkholm/watchload/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
