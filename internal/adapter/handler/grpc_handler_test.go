package handler

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/custody-ledger/internal/adapter/storage"
	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/core/service"
)

func newGRPCClient(t *testing.T) (*CustodyClient, *storage.MemoryAdapter) {
	t.Helper()
	store := storage.NewMemoryAdapter()
	custody := service.NewCustodyService(store, nil, service.WithMaxRetries(20))
	stock := service.NewStockService(store, store, nil, 2)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterCustodyServer(srv, NewGRPCHandler(custody, stock, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewCustodyClient(conn), store
}

func TestGRPC_ApplyAndGetHolding(t *testing.T) {
	client, _ := newGRPCClient(t)
	ctx := context.Background()

	req := applyBody("r1", domain.ActionIssue, 2)
	resp, err := client.Apply(ctx, &req)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if resp.EventID == "" || resp.Holding.Item("vest").QuantityActive != 2 {
		t.Errorf("unexpected response %+v", resp)
	}

	h, err := client.GetHolding(ctx, &HoldingRequest{SubjectID: "S", Category: domain.CategoryClothing})
	if err != nil {
		t.Fatalf("GetHolding failed: %v", err)
	}
	if h.LastEventID != resp.EventID {
		t.Errorf("expected last event %s, got %s", resp.EventID, h.LastEventID)
	}
}

func TestGRPC_StatusCodes(t *testing.T) {
	client, _ := newGRPCClient(t)
	ctx := context.Background()

	bad := applyBody("r1", domain.ActionIssue, -1)
	_, err := client.Apply(ctx, &bad)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}

	ret := applyBody("r2", domain.ActionReturn, 1)
	_, err = client.Apply(ctx, &ret)
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition, got %v", err)
	}

	_, err = client.GetHolding(ctx, &HoldingRequest{SubjectID: "nobody", Category: domain.CategoryClothing})
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestGRPC_ConcurrentDuplicateRequests(t *testing.T) {
	client, store := newGRPCClient(t)
	ctx := context.Background()

	var duplicates atomic.Int32
	var eventIDs sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := applyBody("same", domain.ActionIssue, 1)
			resp, err := client.Apply(ctx, &req)
			if err != nil {
				t.Errorf("Apply failed: %v", err)
				return
			}
			if resp.Duplicate {
				duplicates.Add(1)
			}
			eventIDs.Store(resp.EventID, true)
		}()
	}
	wg.Wait()

	if duplicates.Load() != 15 {
		t.Errorf("expected 15 duplicates, got %d", duplicates.Load())
	}
	distinct := 0
	eventIDs.Range(func(_, _ any) bool { distinct++; return true })
	if distinct != 1 {
		t.Errorf("expected one event id across callers, got %d", distinct)
	}
	evs, _ := store.ListEvents(ctx, domain.HoldingKey{SubjectID: "S", Category: domain.CategoryClothing})
	if len(evs) != 1 {
		t.Errorf("expected 1 ledger event, got %d", len(evs))
	}
}

func TestGRPC_ReconcileAndAggregate(t *testing.T) {
	client, store := newGRPCClient(t)
	ctx := context.Background()
	store.SetGroup(ctx, "S", "alpha")

	req := applyBody("r1", domain.ActionIssue, 3)
	if _, err := client.Apply(ctx, &req); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	report, err := client.Reconcile(ctx, &HoldingRequest{SubjectID: "S", Category: domain.CategoryClothing})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Rebuilt || report.Drifted() {
		t.Errorf("clean holding reported drift: %+v", report)
	}

	agg, err := client.AggregateByGroup(ctx, &AggregateRequest{Category: domain.CategoryClothing})
	if err != nil {
		t.Fatalf("AggregateByGroup failed: %v", err)
	}
	if len(agg.Groups) != 1 || agg.Groups[0].Group != "alpha" || agg.Groups[0].QuantityActive != 3 {
		t.Errorf("unexpected groups %+v", agg.Groups)
	}
}
