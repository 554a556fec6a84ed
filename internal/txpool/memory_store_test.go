package txpool

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "DDXF-Market/internal/errors"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, hash := range []string{"0x01", "0x02", "0x03"} {
		if err := store.Create(ctx, &Receipt{Hash: hash, Status: StatusPending}); err != nil {
			t.Fatalf("create %s: %v", hash, err)
		}
	}
	if err := store.MarkFailed(ctx, "0x02", xerrors.CodePrecondition, "insufficient balance"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "0x03", Outcome{Return: []byte{0x01}}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	base := time.Now().Add(-2 * time.Minute)
	store.mu.Lock()
	store.receipts["0x01"].UpdatedAt = base.Unix()
	store.receipts["0x02"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.receipts["0x03"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].Hash != "0x03" {
		t.Fatalf("expected newest receipt first, got %+v", all)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorCode != string(xerrors.CodePrecondition) {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	byCode, err := store.List(ctx, buildListOptions([]ListOption{WithErrorCode(string(xerrors.CodePrecondition))}))
	if err != nil || len(byCode) != 1 || byCode[0].Hash != "0x02" {
		t.Fatalf("unexpected error code filter result %+v err %v", byCode, err)
	}

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2), WithOffset(1)}))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 2 || asc[0].Hash != "0x02" || asc[1].Hash != "0x03" {
		t.Fatalf("unexpected ascending page %+v", asc)
	}

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(45 * time.Second))}))
	if err != nil || len(recent) != 1 || recent[0].Hash != "0x03" {
		t.Fatalf("unexpected since filter result %+v err %v", recent, err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(60*time.Second).Unix() {
		t.Fatalf("unexpected stats range %+v", stats)
	}
}

func TestMemoryStoreClaimOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Receipt{Hash: "0xaa", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Receipt{Hash: "0xaa", Status: StatusPending}); !errors.Is(err, ErrReceiptConflict) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
	receipt, err := store.Claim(ctx, "0xaa")
	if err != nil || receipt.Status != StatusRunning {
		t.Fatalf("claim: %+v %v", receipt, err)
	}
	if _, err := store.Claim(ctx, "0xaa"); !errors.Is(err, ErrReceiptConflict) {
		t.Fatalf("expected conflict on second claim, got %v", err)
	}
	if err := store.MarkFailed(ctx, "0xaa", xerrors.CodeUnauthorized, "missing witness"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "0xaa"); !errors.Is(err, ErrReceiptCompleted) {
		t.Fatalf("failed receipts must not be claimed again, got %v", err)
	}
	if _, err := store.Claim(ctx, "0xbb"); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Receipt{Hash: "0xcc", Payload: []byte{1, 2, 3}, Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.Get(ctx, "0xcc")
	got.Payload[0] = 9
	again, _ := store.Get(ctx, "0xcc")
	if again.Payload[0] != 1 {
		t.Fatalf("stored payload was mutated through a returned copy")
	}
}

func TestRecoverRequeuesPendingAndFailsRunning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	svc := NewService(store, queue)

	for _, hash := range []string{"0xa1", "0xa2", "0xa3"} {
		if err := store.Create(ctx, &Receipt{Hash: hash, Status: StatusPending}); err != nil {
			t.Fatalf("create %s: %v", hash, err)
		}
	}
	if _, err := store.Claim(ctx, "0xa3"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	report, err := svc.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if report.Requeued != 2 || report.Interrupted != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	got, err := store.Get(ctx, "0xa3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorCode != string(CodeTxInterrupted) {
		t.Fatalf("running receipt not failed: %+v", got)
	}
}
