package admin

import (
	"context"
	"time"

	"github.com/Keksclan/hearth/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

// Client calls a remote hearth.Admin service. Read-only calls are retried
// while the server reports codes.Unavailable.
type Client struct {
	cc    grpc.ClientConnInterface
	retry retry.Config
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{
		cc: cc,
		retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Jitter:      0.2,
			Retryable:   retry.RetryOnCodes(codes.Unavailable),
		},
	}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	resp := new(Resp)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// ProcessBatch triggers a single dispatch batch. It is not retried.
func (c *Client) ProcessBatch(ctx context.Context) (*ProcessBatchResponse, error) {
	return invoke[ProcessBatchResponse](ctx, c.cc, "ProcessBatch", &ProcessBatchRequest{})
}

func (c *Client) CacheStats(ctx context.Context) (*CacheStatsResponse, error) {
	return retry.Do(ctx, c.retry, func(ctx context.Context) (*CacheStatsResponse, error) {
		return invoke[CacheStatsResponse](ctx, c.cc, "CacheStats", &CacheStatsRequest{})
	})
}

func (c *Client) GetJob(ctx context.Context, id string) (*GetJobResponse, error) {
	return retry.Do(ctx, c.retry, func(ctx context.Context) (*GetJobResponse, error) {
		return invoke[GetJobResponse](ctx, c.cc, "GetJob", &GetJobRequest{ID: id})
	})
}

func (c *Client) InvalidateTag(ctx context.Context, tag string, durable bool) (*InvalidateTagResponse, error) {
	return invoke[InvalidateTagResponse](ctx, c.cc, "InvalidateTag", &InvalidateTagRequest{Tag: tag, Durable: durable})
}
