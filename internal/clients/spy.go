// Package clients holds the governor's external collaborators: the Wormhole
// spy node the signed VAAs arrive from, and the Solana RPC client the
// privileged effects go out through.
package clients

import (
	"context"
	"fmt"
	"time"

	spyv1 "github.com/certusone/wormhole/node/pkg/proto/spy/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// SpyClient subscribes to signed VAAs published by a Wormhole spy node.
type SpyClient struct {
	conn   *grpc.ClientConn
	client spyv1.SpyRPCServiceClient
	logger *zap.Logger
}

// NewSpyClient connects to the spy service at the given endpoint.
func NewSpyClient(logger *zap.Logger, endpoint string) (*SpyClient, error) {
	c := &SpyClient{
		logger: logger.With(zap.String("component", "SpyClient")),
	}

	c.logger.Info("Connecting to spy service", zap.String("endpoint", endpoint))
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to spy: %w", err)
	}

	c.conn = conn
	c.client = spyv1.NewSpyRPCServiceClient(conn)
	return c, nil
}

// Close closes the connection to the spy service.
func (c *SpyClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// SubscribeSignedVAA opens a signed-VAA stream, retrying a few times before
// giving up.
func (c *SpyClient) SubscribeSignedVAA(ctx context.Context) (spyv1.SpyRPCService_SubscribeSignedVAAClient, error) {
	const maxRetries = 5
	const retryDelay = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		stream, err := c.client.SubscribeSignedVAA(ctx, &spyv1.SubscribeSignedVAARequest{})
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Subscribe attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
				zap.Duration("retryIn", retryDelay))
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("subscribe after %d attempts: %w", maxRetries, lastErr)
}
