package gateway

import (
	"context"
	"errors"
	"testing"
)

type rangeCall struct{ start, end int }

func fakeTable(total int, calls *[]rangeCall) RangeFunc[int] {
	return func(_ context.Context, start, end int) ([]int, error) {
		*calls = append(*calls, rangeCall{start, end})
		var rows []int
		for i := start; i <= end && i < total; i++ {
			rows = append(rows, i)
		}
		return rows, nil
	}
}

func TestFetchAll(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		pageSize  int
		expCalls  int
		expRows   int
		lastRange rangeCall
	}{
		{name: "three pages", total: 2500, pageSize: 1000, expCalls: 3, expRows: 2500, lastRange: rangeCall{2000, 2999}},
		{name: "exact multiple needs empty page", total: 2000, pageSize: 1000, expCalls: 3, expRows: 2000, lastRange: rangeCall{2000, 2999}},
		{name: "empty table", total: 0, pageSize: 1000, expCalls: 1, expRows: 0, lastRange: rangeCall{0, 999}},
		{name: "single short page", total: 10, pageSize: 1000, expCalls: 1, expRows: 10, lastRange: rangeCall{0, 999}},
		{name: "default page size", total: 1500, pageSize: 0, expCalls: 2, expRows: 1500, lastRange: rangeCall{1000, 1999}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var calls []rangeCall
			rows, err := FetchAll(context.Background(), tc.pageSize, fakeTable(tc.total, &calls))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(calls) != tc.expCalls {
				t.Fatalf("expected %d range requests, got %d (%v)", tc.expCalls, len(calls), calls)
			}
			if len(rows) != tc.expRows {
				t.Fatalf("expected %d rows, got %d", tc.expRows, len(rows))
			}
			if calls[len(calls)-1] != tc.lastRange {
				t.Fatalf("expected last range %v, got %v", tc.lastRange, calls[len(calls)-1])
			}
			for i, row := range rows {
				if row != i {
					t.Fatalf("row %d out of order: %d", i, row)
				}
			}
		})
	}
}

func TestFetchAllAbortsOnPageError(t *testing.T) {
	boom := errors.New("network down")
	calls := 0
	fetch := func(_ context.Context, start, end int) ([]int, error) {
		calls++
		if start >= 1000 {
			return nil, boom
		}
		return make([]int, end-start+1), nil
	}

	rows, err := FetchAll[int](context.Background(), 1000, fetch)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped page error, got %v", err)
	}
	if rows != nil {
		t.Fatalf("expected no partial result, got %d rows", len(rows))
	}
	if calls != 2 {
		t.Fatalf("expected 2 requests before abort, got %d", calls)
	}
}

func TestFetchAllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls []rangeCall
	if _, err := FetchAll(ctx, 10, fakeTable(100, &calls)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no requests, got %d", len(calls))
	}
}
