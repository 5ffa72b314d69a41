package observability

import (
	"log/slog"
	"os"

	"github.com/relaybank/adserve/internal/config"
)

// SetupLogger configures a JSON slog logger tagged with the service and
// environment name. In dev it logs at debug level so pipeline stage
// transitions are visible; prod defaults to info.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
