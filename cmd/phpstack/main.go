package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/zurustar/phpstack/pkg/app"
)

func main() {
	application := app.New()
	if err := application.Run(os.Args[1:]); err != nil {
		if !errors.Is(err, app.ErrReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
