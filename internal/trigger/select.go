package trigger

import (
	"fmt"
	"log/slog"

	"github.com/ayusman/poetrycam/internal/config"
)

// Select builds the hardware or simulated source named by cfg.Source.
// "auto" prefers the GPIO button and falls back to the simulator; "none"
// returns a nil source and no error.
func Select(cfg config.Trigger) (Source, error) {
	switch cfg.Source {
	case "none":
		return nil, nil
	case "simulated":
		return NewSimulated(cfg.SimulateDelay, cfg.SimulateInterval), nil
	case "gpio":
		return OpenButton(cfg.ButtonPin, cfg.Debounce)
	case "auto":
		b, err := OpenButton(cfg.ButtonPin, cfg.Debounce)
		if err == nil {
			return b, nil
		}
		slog.Info("trigger: no button, using simulated trigger", "pin", cfg.ButtonPin, "reason", err)
		return NewSimulated(cfg.SimulateDelay, cfg.SimulateInterval), nil
	default:
		return nil, fmt.Errorf("unknown trigger source %q", cfg.Source)
	}
}
