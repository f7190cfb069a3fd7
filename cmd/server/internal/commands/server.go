package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
	"github.com/wolfeidau/rootsigner/internal/keysource"
	"github.com/wolfeidau/rootsigner/internal/logger"
	"github.com/wolfeidau/rootsigner/internal/pki"
	"github.com/wolfeidau/rootsigner/internal/server"
	"github.com/wolfeidau/rootsigner/internal/signing"
	"github.com/wolfeidau/rootsigner/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:3000" env:"ROOTSIGNER_LISTEN"`
	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests on shutdown" default:"10s" env:"ROOTSIGNER_SHUTDOWN_TIMEOUT"`

	// Root key configuration
	RootKey RootKeyFlags `embed:""`

	// Request limits
	Limits LimitFlags `embed:""`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins, CORS is disabled when empty" env:"ROOTSIGNER_CORS_ORIGINS"`

	// Development and operational modes
	Gzip             bool    `help:"compress responses" default:"true" env:"ROOTSIGNER_GZIP" negatable:""`
	GzipMinSize      int     `help:"smallest response body in bytes that is compressed" default:"1024" env:"ROOTSIGNER_GZIP_MIN_SIZE"`
	Tracing          bool    `help:"enable tracing" default:"false" env:"ROOTSIGNER_TRACING"`
	TraceSampleRatio float64 `help:"fraction of root traces sampled" default:"1" env:"ROOTSIGNER_TRACE_SAMPLE_RATIO"`
}

// RootKeyFlags select where the root key comes from. KMS takes precedence, then inline key text,
// then SSM, then the key file.
type RootKeyFlags struct {
	PrivateKey     string `help:"root private key, PEM or base64 DER" env:"ROOT_PRIVATE_KEY"`
	PrivateKeyFile string `help:"path to root private key file" default:"/etc/secrets/ROOT_PRIVATE_KEY" env:"ROOTSIGNER_PRIVATE_KEY_FILE"`
	PrivateKeySSM  string `name:"private-key-ssm" help:"SSM SecureString parameter holding the root private key" env:"ROOTSIGNER_PRIVATE_KEY_SSM"`
	KMSKeyID       string `name:"kms-key-id" help:"AWS KMS key ID, ARN or alias to sign with instead of a local key" env:"ROOTSIGNER_KMS_KEY_ID"`
	MinKeyBits     int    `help:"minimum RSA modulus size" default:"2048" env:"ROOTSIGNER_MIN_KEY_BITS"`
}

func (k *RootKeyFlags) Validate() error {
	if k.KMSKeyID != "" && (k.PrivateKey != "" || k.PrivateKeySSM != "") {
		return errors.New("--kms-key-id cannot be combined with --private-key or --private-key-ssm")
	}
	if k.MinKeyBits < 1024 {
		return errors.New("--min-key-bits must be at least 1024")
	}
	return nil
}

// LimitFlags bound the work a single request can cause.
type LimitFlags struct {
	MaxBodyBytes  int64 `help:"maximum request body size in bytes" default:"1048576" env:"ROOTSIGNER_MAX_BODY_BYTES"`
	MaxDepth      int   `help:"maximum nesting depth of certContent" default:"64" env:"ROOTSIGNER_MAX_DEPTH"`
	MaxConcurrent int   `help:"maximum concurrent signing operations, 0 uses GOMAXPROCS" default:"0" env:"ROOTSIGNER_MAX_CONCURRENT"`
}

func (l *LimitFlags) Validate() error {
	if l.MaxBodyBytes <= 0 {
		return errors.New("--max-body-bytes must be positive")
	}
	if l.MaxDepth <= 0 {
		return errors.New("--max-depth must be positive")
	}
	if l.MaxConcurrent < 0 {
		return errors.New("--max-concurrent must not be negative")
	}
	return nil
}

func (c *ServerCmd) Validate() error {
	if err := c.RootKey.Validate(); err != nil {
		return err
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if c.GzipMinSize < 0 {
		return errors.New("--gzip-min-size must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return errors.New("--trace-sample-ratio must be between 0 and 1")
	}
	return nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "rootsigner-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Load the root key before anything listens so a bad key fails startup
	signer, err := c.loadSigner(ctx)
	if err != nil {
		return fmt.Errorf("failed to load root key: %w", err)
	}

	log.Info().
		Str("kid", signer.KeyID()).
		Int("modulus_bits", signer.PublicKey().N.BitLen()).
		Msg("Root key loaded")

	handler, err := c.handler(signer, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Listen, err)
	}

	return c.serve(ctx, log, listener, configureHTTPServer(c.Listen, handler))
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func (c *ServerCmd) serve(ctx context.Context, log zerolog.Logger, listener net.Listener, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("Starting HTTP server")
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", c.ShutdownTimeout).Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// loadSigner builds the configured signer. Every key problem surfaces here as an error.
func (c *ServerCmd) loadSigner(ctx context.Context) (pki.Signer, error) {
	if c.RootKey.KMSKeyID != "" {
		awsConfig, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return pki.NewKMSSigner(ctx, awsConfig, c.RootKey.KMSKeyID, c.RootKey.MinKeyBits)
	}

	raw, source, err := keysource.Load(ctx, keysource.Config{
		Inline:       c.RootKey.PrivateKey,
		SSMParameter: c.RootKey.PrivateKeySSM,
		Path:         c.RootKey.PrivateKeyFile,
		RetryBackoff: keysource.DefaultBackoff(),
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().Str("source", string(source)).Msg("Read root key material")

	return pki.ParseKey(raw, c.RootKey.MinKeyBits)
}

// handler assembles the signing service and its HTTP middleware.
func (c *ServerCmd) handler(signer pki.Signer, log zerolog.Logger) (http.Handler, error) {
	service := signing.NewService(signer,
		signing.WithLimits(jsonvalue.Limits{MaxDepth: c.Limits.MaxDepth, MaxBytes: c.Limits.MaxBodyBytes}),
		signing.WithMaxConcurrent(c.Limits.MaxConcurrent),
	)

	srv, err := server.NewServer(service)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	handler := srv.Handler(log)

	if c.Gzip {
		wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(c.GzipMinSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip handler: %w", err)
		}
		handler = wrap(handler)
	}

	if len(c.CORSOrigins) > 0 {
		handler = withCORS(c.CORSOrigins, handler)
	}

	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "rootsigner")
	}

	return handler, nil
}

// withCORS adds CORS support for browser callers of the signing API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         3600,
	})
	return middleware.Handler(h)
}
