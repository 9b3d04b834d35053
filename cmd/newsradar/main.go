package main

import (
	"os"

	"newsradar/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
