package observability

import (
	"os"

	"github.com/danmuck/dronenet/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs cfg process-wide and returns a logger tagged with app.
func InitLogger(app string, cfg logging.Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	logging.Configure(cfg)
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
