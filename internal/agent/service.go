package agent

import (
	"fmt"
	"log/slog"
)

// New builds the responder selected by cfg.Backend. The returned close
// function releases any connection held by the responder.
func New(cfg Config, logger *slog.Logger) (Responder, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", BackendSimulated:
		logger.Info("Using simulated AI responder", "delay", cfg.ReplyDelay)
		return Simulated{Delay: cfg.ReplyDelay}, func() {}, nil
	case BackendGrpc:
		client, err := NewGrpcClient(cfg.GrpcAddr, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create grpc responder: %w", err)
		}
		if cfg.RequestTimeout > 0 {
			client.requestTimeout = cfg.RequestTimeout
		}
		return client, client.Close, nil
	case BackendHTTP:
		client, err := NewHTTPClient(cfg.HTTPURL, cfg.RequestTimeout, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create http responder: %w", err)
		}
		return client, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownBackend, cfg.Backend)
	}
}
