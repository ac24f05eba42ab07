package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/custody-ledger/internal/adapter/handler"
	"github.com/rl1809/custody-ledger/internal/core/domain"
)

const (
	duplicateRequests = 50
	distinctRequests  = 50
	itemID            = "plate-carrier"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC address of the custody server")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer conn.Close()
	client := handler.NewCustodyClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Every run uses a fresh subject so results do not depend on earlier runs
	subject := "stress-" + uuid.NewString()[:8]
	key := &handler.HoldingRequest{SubjectID: subject, Category: domain.CategoryCombatGear}

	request := func(requestID string) *domain.ApplyRequest {
		return &domain.ApplyRequest{
			SubjectID: subject,
			Category:  domain.CategoryCombatGear,
			Action:    domain.ActionIssue,
			Items:     []domain.Item{{ItemID: itemID, ItemName: "Plate Carrier", Quantity: 1}},
			ActorID:   "stress-test",
			RequestID: requestID,
		}
	}

	// Phase 1: the same requestId submitted concurrently
	var committed, duplicates, failed atomic.Int32
	var eventIDs sync.Map
	var wg sync.WaitGroup
	start := time.Now()

	sharedID := uuid.NewString()
	for i := 0; i < duplicateRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Apply(ctx, request(sharedID))
			switch {
			case err != nil:
				failed.Add(1)
				log.Printf("apply error: %v", err)
			case resp.Duplicate:
				duplicates.Add(1)
				eventIDs.Store(resp.EventID, true)
			default:
				committed.Add(1)
				eventIDs.Store(resp.EventID, true)
			}
		}()
	}
	wg.Wait()
	dupElapsed := time.Since(start)

	distinctEvents := 0
	eventIDs.Range(func(_, _ any) bool { distinctEvents++; return true })

	// Phase 2: distinct requestIds on the same holding
	var distinctOK, distinctFailed atomic.Int32
	start = time.Now()
	for i := 0; i < distinctRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Apply(ctx, request(uuid.NewString())); err != nil {
				distinctFailed.Add(1)
				log.Printf("apply error: %v", err)
				return
			}
			distinctOK.Add(1)
		}()
	}
	wg.Wait()
	distinctElapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Subject:              %s\n", subject)
	fmt.Printf("Duplicate Requests:   %d\n", duplicateRequests)
	fmt.Printf("  Committed:          %d\n", committed.Load())
	fmt.Printf("  Duplicates:         %d\n", duplicates.Load())
	fmt.Printf("  Failed:             %d\n", failed.Load())
	fmt.Printf("  Distinct Event IDs: %d\n", distinctEvents)
	fmt.Printf("  Duration:           %v\n", dupElapsed)
	fmt.Printf("Distinct Requests:    %d\n", distinctRequests)
	fmt.Printf("  Committed:          %d\n", distinctOK.Load())
	fmt.Printf("  Failed:             %d\n", distinctFailed.Load())
	fmt.Printf("  Duration:           %v\n", distinctElapsed)
	fmt.Println("==========================================")

	// Assertions
	if committed.Load() == 1 && duplicates.Load() == duplicateRequests-1 && distinctEvents == 1 {
		fmt.Println("PASS: Exactly 1 commit, every other caller saw the same event")
	} else {
		fmt.Printf("FAIL: Expected 1 commit/%d duplicates/1 event id, got %d/%d/%d\n",
			duplicateRequests-1, committed.Load(), duplicates.Load(), distinctEvents)
	}

	holding, err := client.GetHolding(ctx, key)
	if err != nil {
		log.Fatalf("failed to read holding: %v", err)
	}
	expected := 1 + int(distinctOK.Load())
	got := holding.Item(itemID).QuantityActive
	fmt.Printf("Final Quantity Active: %d\n", got)
	if got == expected {
		fmt.Printf("PASS: Holding matches %d committed operations\n", expected)
	} else {
		fmt.Printf("FAIL: Expected quantity %d, got %d\n", expected, got)
	}

	report, err := client.Reconcile(ctx, key)
	if err != nil {
		log.Fatalf("failed to reconcile: %v", err)
	}
	if !report.Drifted() {
		fmt.Println("PASS: Live holding matches ledger replay")
	} else {
		fmt.Printf("FAIL: Drift detected on %d items\n", len(report.Items))
	}
}
