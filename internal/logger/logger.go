package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	rshttp "github.com/wolfeidau/rootsigner/internal/http"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// HTTPRequests attaches a request scoped logger to each request context and logs the outcome.
// Wrap it inside RequestIDMiddleware and ClientIPMiddleware so their values are available.
type HTTPRequests struct {
	logger zerolog.Logger
}

func NewHTTPRequests(logger zerolog.Logger) *HTTPRequests {
	return &HTTPRequests{logger: logger}
}

func (h *HTTPRequests) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		ctx := h.logger.With().
			Str("request_id", rshttp.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("addr", rshttp.ClientIPFromContext(r.Context())).
			Logger().WithContext(r.Context())

		rec := rshttp.NewStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(ctx))

		var event *zerolog.Event
		switch {
		case rec.Status >= http.StatusInternalServerError:
			event = zerolog.Ctx(ctx).Error()
		case rec.Status >= http.StatusBadRequest:
			event = zerolog.Ctx(ctx).Warn()
		default:
			event = zerolog.Ctx(ctx).Info()
		}

		event.
			Int("status", rec.Status).
			Int("bytes", rec.Bytes).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}
