// Package admin provides the hearth.Admin gRPC service for operating a
// running daemon: trigger a dispatch batch, inspect cache and job state, and
// invalidate cache tags. It uses [grpc.ServiceDesc] registration so that no
// protobuf code generation is required.
//
// Request and response types are plain Go structs. The package registers a
// thin codec wrapper that JSON-encodes admin types while delegating all other
// messages to the standard proto codec.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Keksclan/hearth/cache"
	"github.com/Keksclan/hearth/dispatch"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcEncoding "google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // ensure default proto codec is registered first
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "hearth.Admin"

type ProcessBatchRequest struct{}

type ProcessBatchResponse struct {
	Summary dispatch.Summary `json:"summary"`
}

type CacheStatsRequest struct{}

type CacheStatsResponse struct {
	Stats cache.Stats `json:"stats"`
}

type InvalidateTagRequest struct {
	Tag string `json:"tag"`
	// Durable also removes matching entries from the durable tier.
	Durable bool `json:"durable"`
}

type InvalidateTagResponse struct {
	Primary int `json:"primary"`
	Durable int `json:"durable"`
}

type GetJobRequest struct {
	ID string `json:"id"`
}

type GetJobResponse struct {
	Job dispatch.Job `json:"job"`
}

// adminMsg is a marker interface satisfied by every request and response.
type adminMsg interface {
	isAdminMsg()
}

func (*ProcessBatchRequest) isAdminMsg()   {}
func (*ProcessBatchResponse) isAdminMsg()  {}
func (*CacheStatsRequest) isAdminMsg()     {}
func (*CacheStatsResponse) isAdminMsg()    {}
func (*InvalidateTagRequest) isAdminMsg()  {}
func (*InvalidateTagResponse) isAdminMsg() {}
func (*GetJobRequest) isAdminMsg()         {}
func (*GetJobResponse) isAdminMsg()        {}

// Handler is the interface that an Admin service implementation must satisfy.
type Handler interface {
	ProcessBatch(ctx context.Context, req *ProcessBatchRequest) (*ProcessBatchResponse, error)
	CacheStats(ctx context.Context, req *CacheStatsRequest) (*CacheStatsResponse, error)
	InvalidateTag(ctx context.Context, req *InvalidateTagRequest) (*InvalidateTagResponse, error)
	GetJob(ctx context.Context, req *GetJobRequest) (*GetJobResponse, error)
}

// Cache is the part of a cache.Tiered the service needs. Any Tiered[V]
// satisfies it.
type Cache interface {
	Stats(ctx context.Context) cache.Stats
	InvalidateByTag(tag string) int
	InvalidateByTagDurable(ctx context.Context, tag string) int
}

// Queue is the part of a dispatch.Queue the service needs.
type Queue interface {
	ProcessBatch(ctx context.Context) (dispatch.Summary, error)
	Get(ctx context.Context, id string) (dispatch.Job, error)
}

// NewService returns a Handler backed by c and q. Either may be nil, in which
// case the related methods return codes.Unimplemented.
func NewService(c Cache, q Queue) Handler {
	return &service{cache: c, queue: q}
}

type service struct {
	cache Cache
	queue Queue
}

var (
	errNoCache = status.Error(codes.Unimplemented, "cache not configured")
	errNoQueue = status.Error(codes.Unimplemented, "dispatch queue not configured")
)

func (s *service) ProcessBatch(ctx context.Context, _ *ProcessBatchRequest) (*ProcessBatchResponse, error) {
	if s.queue == nil {
		return nil, errNoQueue
	}
	sum, err := s.queue.ProcessBatch(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "process batch: %v", err)
	}
	return &ProcessBatchResponse{Summary: sum}, nil
}

func (s *service) CacheStats(ctx context.Context, _ *CacheStatsRequest) (*CacheStatsResponse, error) {
	if s.cache == nil {
		return nil, errNoCache
	}
	return &CacheStatsResponse{Stats: s.cache.Stats(ctx)}, nil
}

func (s *service) InvalidateTag(ctx context.Context, req *InvalidateTagRequest) (*InvalidateTagResponse, error) {
	if s.cache == nil {
		return nil, errNoCache
	}
	if req.Tag == "" {
		return nil, status.Error(codes.InvalidArgument, "tag is required")
	}
	resp := &InvalidateTagResponse{Primary: s.cache.InvalidateByTag(req.Tag)}
	if req.Durable {
		resp.Durable = s.cache.InvalidateByTagDurable(ctx, req.Tag)
	}
	return resp, nil
}

func (s *service) GetJob(ctx context.Context, req *GetJobRequest) (*GetJobResponse, error) {
	if s.queue == nil {
		return nil, errNoQueue
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	job, err := s.queue.Get(ctx, req.ID)
	if errors.Is(err, dispatch.ErrJobNotFound) {
		return nil, status.Errorf(codes.NotFound, "job %s not found", req.ID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get job: %v", err)
	}
	return &GetJobResponse{Job: job}, nil
}

// ServiceDesc is the grpc.ServiceDesc for the hearth.Admin service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessBatch", Handler: unary("ProcessBatch", Handler.ProcessBatch)},
		{MethodName: "CacheStats", Handler: unary("CacheStats", Handler.CacheStats)},
		{MethodName: "InvalidateTag", Handler: unary("InvalidateTag", Handler.InvalidateTag)},
		{MethodName: "GetJob", Handler: unary("GetJob", Handler.GetJob)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hearth/admin.proto",
}

// unary builds a grpc.MethodDesc handler that decodes Req, runs it through
// the interceptor chain and calls the Handler method.
func unary[Req, Resp any](method string, call func(Handler, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return call(h, ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, r any) (any, error) {
			return call(h, ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// Register registers an Admin service implementation on the given gRPC server.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

// ---------- codec wrapper ----------

func init() {
	// Replace the default proto codec with a thin wrapper that JSON-encodes
	// admin types and delegates all other (protobuf) messages to proto.Marshal.
	grpcEncoding.RegisterCodec(adminCodec{})
}

type adminCodec struct{}

func (adminCodec) Name() string { return "proto" }

func (adminCodec) Marshal(v any) ([]byte, error) {
	if _, ok := v.(adminMsg); ok {
		return json.Marshal(v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("admin codec: unsupported message type %T", v)
}

func (adminCodec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(adminMsg); ok {
		return json.Unmarshal(data, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("admin codec: unsupported message type %T", v)
}
