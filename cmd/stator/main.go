package main

import (
	"log/slog"

	"github.com/statorhq/stator/pkg/stator"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	stator.SetupLogger()

	// built-in HTTP_PROBE and WAIT steps are pre-registered; add your own
	// step implementations to stator.StepRegistry here before starting
	if err := stator.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
