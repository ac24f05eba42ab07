package handler

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/core/service"
	"github.com/rl1809/custody-ledger/internal/platform/logger"
)

// CodecName is the content subtype clients must select, e.g. with
// grpc.CallContentSubtype(CodecName).
const CodecName = "json"

const custodyServiceName = "custody.v1.CustodyService"

// jsonCodec carries the domain types as JSON so the service needs no
// generated message code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type ApplyResponse struct {
	EventID   string         `json:"eventId"`
	RequestID string         `json:"requestId"`
	Duplicate bool           `json:"duplicate"`
	Holding   domain.Holding `json:"holding"`
}

type HoldingRequest struct {
	SubjectID string          `json:"subjectId"`
	Category  domain.Category `json:"category"`
}

type AggregateRequest struct {
	Category domain.Category `json:"category"`
	Source   string          `json:"source,omitempty"`
}

type AggregateResponse struct {
	Groups []domain.GroupStock `json:"groups"`
}

// CustodyServer is the server API for custody.v1.CustodyService.
type CustodyServer interface {
	Apply(context.Context, *domain.ApplyRequest) (*ApplyResponse, error)
	GetHolding(context.Context, *HoldingRequest) (*domain.Holding, error)
	Reconcile(context.Context, *HoldingRequest) (*domain.DriftReport, error)
	AggregateByGroup(context.Context, *AggregateRequest) (*AggregateResponse, error)
}

type GRPCHandler struct {
	custody *service.CustodyService
	stock   *service.StockService
	log     *logger.Logger
}

var _ CustodyServer = (*GRPCHandler)(nil)

func NewGRPCHandler(custody *service.CustodyService, stock *service.StockService, log *logger.Logger) *GRPCHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GRPCHandler{custody: custody, stock: stock, log: log}
}

// Apply answers a duplicate requestId with the original result and no error,
// mirroring the HTTP endpoint.
func (h *GRPCHandler) Apply(ctx context.Context, req *domain.ApplyRequest) (*ApplyResponse, error) {
	result, err := h.custody.Apply(ctx, *req)
	if err != nil && !errors.Is(err, domain.ErrDuplicateRequest) {
		return nil, h.fail("apply failed", err)
	}
	return &ApplyResponse{
		EventID:   result.EventID,
		RequestID: result.RequestID,
		Duplicate: result.Duplicate,
		Holding:   result.Holding,
	}, nil
}

func (h *GRPCHandler) GetHolding(ctx context.Context, req *HoldingRequest) (*domain.Holding, error) {
	key, err := req.key()
	if err != nil {
		return nil, grpcError(err)
	}
	holding, err := h.custody.GetHolding(ctx, key)
	if err != nil {
		return nil, h.fail("get holding failed", err)
	}
	return &holding, nil
}

func (h *GRPCHandler) Reconcile(ctx context.Context, req *HoldingRequest) (*domain.DriftReport, error) {
	key, err := req.key()
	if err != nil {
		return nil, grpcError(err)
	}
	report, err := h.custody.Reconcile(ctx, key)
	if err != nil {
		return nil, h.fail("reconcile failed", err)
	}
	return &report, nil
}

func (h *GRPCHandler) AggregateByGroup(ctx context.Context, req *AggregateRequest) (*AggregateResponse, error) {
	source, err := service.ParseStockSource(req.Source)
	if err != nil {
		return nil, grpcError(err)
	}
	rows, err := h.stock.AggregateByGroup(ctx, req.Category, source)
	if err != nil {
		return nil, h.fail("aggregate failed", err)
	}
	return &AggregateResponse{Groups: rows}, nil
}

func (h *GRPCHandler) fail(msg string, err error) error {
	if _, known := classify(err); !known {
		h.log.Error(msg, "error", err)
	}
	return grpcError(err)
}

func (r *HoldingRequest) key() (domain.HoldingKey, error) {
	if r.SubjectID == "" {
		return domain.HoldingKey{}, &domain.ValidationError{Field: "subjectId", Reason: "required"}
	}
	category, err := domain.ParseCategory(string(r.Category))
	if err != nil {
		return domain.HoldingKey{}, err
	}
	return domain.HoldingKey{SubjectID: r.SubjectID, Category: category}, nil
}

func RegisterCustodyServer(s grpc.ServiceRegistrar, srv CustodyServer) {
	s.RegisterService(&CustodyServiceDesc, srv)
}

// CustodyServiceDesc is written by hand in the shape protoc-gen-go-grpc
// emits; requests and responses travel through jsonCodec.
var CustodyServiceDesc = grpc.ServiceDesc{
	ServiceName: custodyServiceName,
	HandlerType: (*CustodyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Apply", Handler: unaryHandler("Apply", func(srv CustodyServer, ctx context.Context, in *domain.ApplyRequest) (any, error) {
			return srv.Apply(ctx, in)
		})},
		{MethodName: "GetHolding", Handler: unaryHandler("GetHolding", func(srv CustodyServer, ctx context.Context, in *HoldingRequest) (any, error) {
			return srv.GetHolding(ctx, in)
		})},
		{MethodName: "Reconcile", Handler: unaryHandler("Reconcile", func(srv CustodyServer, ctx context.Context, in *HoldingRequest) (any, error) {
			return srv.Reconcile(ctx, in)
		})},
		{MethodName: "AggregateByGroup", Handler: unaryHandler("AggregateByGroup", func(srv CustodyServer, ctx context.Context, in *AggregateRequest) (any, error) {
			return srv.AggregateByGroup(ctx, in)
		})},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req any](method string, call func(CustodyServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + custodyServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CustodyServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CustodyServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CustodyClient calls custody.v1.CustodyService over a JSON-coded connection.
type CustodyClient struct {
	cc grpc.ClientConnInterface
}

func NewCustodyClient(cc grpc.ClientConnInterface) *CustodyClient {
	return &CustodyClient{cc: cc}
}

func (c *CustodyClient) Apply(ctx context.Context, in *domain.ApplyRequest, opts ...grpc.CallOption) (*ApplyResponse, error) {
	out := new(ApplyResponse)
	if err := c.invoke(ctx, "Apply", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyClient) GetHolding(ctx context.Context, in *HoldingRequest, opts ...grpc.CallOption) (*domain.Holding, error) {
	out := new(domain.Holding)
	if err := c.invoke(ctx, "GetHolding", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyClient) Reconcile(ctx context.Context, in *HoldingRequest, opts ...grpc.CallOption) (*domain.DriftReport, error) {
	out := new(domain.DriftReport)
	if err := c.invoke(ctx, "Reconcile", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyClient) AggregateByGroup(ctx context.Context, in *AggregateRequest, opts ...grpc.CallOption) (*AggregateResponse, error) {
	out := new(AggregateResponse)
	if err := c.invoke(ctx, "AggregateByGroup", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+custodyServiceName+"/"+method, in, out, opts...)
}
