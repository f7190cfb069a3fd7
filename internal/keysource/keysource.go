// Package keysource locates the raw root private key bytes: inline configuration, an AWS SSM
// SecureString parameter, or a file on disk.
package keysource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// DefaultKeyPath is where secret mounts place the root key.
const DefaultKeyPath = "/etc/secrets/ROOT_PRIVATE_KEY"

// ErrNoKey is returned when no source is configured.
var ErrNoKey = errors.New("no private key source configured")

// Source identifies where key bytes were loaded from.
type Source string

const (
	SourceInline Source = "inline"
	SourceSSM    Source = "ssm"
	SourceFile   Source = "file"
)

// SSMAPI is the subset of the SSM client used to fetch the key parameter.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// BackoffConfig configures exponential backoff retry for SSM fetches
type BackoffConfig struct {
	// InitialInterval is the first retry delay
	InitialInterval time.Duration

	// MaxInterval is the maximum retry delay
	MaxInterval time.Duration

	// Multiplier controls backoff growth
	Multiplier float64

	// MaxTries bounds the number of attempts, including the first
	MaxTries uint
}

// Config for locating the key. The first non-empty source wins: Inline, then SSMParameter, then Path.
type Config struct {
	// Inline key text, typically from the ROOT_PRIVATE_KEY environment variable
	Inline string

	// SSM parameter name (for production)
	SSMParameter string

	// File path (for local development and secret mounts)
	Path string

	// SSMClient overrides the client built from the default AWS config
	SSMClient SSMAPI

	RetryBackoff BackoffConfig
}

// DefaultBackoff returns sensible retry defaults for startup fetches.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		MaxTries:        5,
	}
}

// Load returns the raw key bytes and where they came from.
func Load(ctx context.Context, cfg Config) ([]byte, Source, error) {
	switch {
	case cfg.Inline != "":
		return []byte(cfg.Inline), SourceInline, nil
	case cfg.SSMParameter != "":
		data, err := loadFromSSM(ctx, cfg)
		if err != nil {
			return nil, SourceSSM, err
		}
		return data, SourceSSM, nil
	case cfg.Path != "":
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			return nil, SourceFile, fmt.Errorf("failed to read private key file: %w", err)
		}
		return data, SourceFile, nil
	}

	return nil, "", ErrNoKey
}

// loadFromSSM loads the key from AWS SSM Parameter Store, retrying transient failures
func loadFromSSM(ctx context.Context, cfg Config) ([]byte, error) {
	client := cfg.SSMClient
	if client == nil {
		awsConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = ssm.NewFromConfig(awsConfig)
	}

	rb := cfg.RetryBackoff
	if rb.MaxTries == 0 {
		rb = DefaultBackoff()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = rb.InitialInterval
	eb.MaxInterval = rb.MaxInterval
	eb.Multiplier = rb.Multiplier

	value, err := backoff.Retry(ctx, func() (string, error) {
		return getParameter(ctx, client, cfg.SSMParameter)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(rb.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			zerolog.Ctx(ctx).Warn().
				Err(err).
				Str("parameter", cfg.SSMParameter).
				Dur("next_retry", next).
				Msg("Failed to fetch private key from SSM, will retry")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key from SSM: %w", err)
	}

	return []byte(value), nil
}

// getParameter fetches a parameter from SSM
func getParameter(ctx context.Context, client SSMAPI, name string) (string, error) {
	output, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", backoff.Permanent(fmt.Errorf("parameter %s has no value", name))
	}
	return *output.Parameter.Value, nil
}
