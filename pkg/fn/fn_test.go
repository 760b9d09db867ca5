package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestErrf(t *testing.T) {
	r := Errf[string]("lawlists status %d", 503)
	_, err := r.Unwrap()
	if err == nil || err.Error() != "lawlists status 503" {
		t.Fatal("Errf wrong message")
	}
}

func TestMustPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Must should panic on Err")
		}
	}()
	Err[int](errors.New("boom")).Must()
}

func TestUnwrapOr(t *testing.T) {
	if Ok(1).UnwrapOr(9) != 1 {
		t.Fatal("should return value")
	}
	if Err[int](errors.New("x")).UnwrapOr(9) != 9 {
		t.Fatal("should return fallback")
	}
}

func TestResultMapAndThen(t *testing.T) {
	r := Ok(2).Map(func(v int) int { return v * 3 })
	if r.Must() != 6 {
		t.Fatal("Map failed")
	}
	if Err[int](errors.New("x")).Map(func(v int) int { return v }).IsOk() {
		t.Fatal("Map on Err should stay Err")
	}

	c := Ok(2).AndThen(func(v int) Result[int] { return Ok(v + 1) })
	if c.Must() != 3 {
		t.Fatal("AndThen failed")
	}
	if Err[int](errors.New("x")).AndThen(func(v int) Result[int] { return Ok(v) }).IsOk() {
		t.Fatal("AndThen on Err should stay Err")
	}
}

func TestMapResult(t *testing.T) {
	r := MapResult(Ok(5), func(v int) string { return strconv.Itoa(v) })
	if r.Must() != "5" {
		t.Fatal("MapResult failed")
	}
	e := MapResult(Err[int](errors.New("x")), func(v int) string { return "" })
	if e.IsOk() {
		t.Fatal("MapResult should carry error")
	}
}

func TestFromPair(t *testing.T) {
	r := FromPair(strconv.Atoi("42"))
	if r.Must() != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[string]{Ok("民法"), Ok("刑法"), Ok("商法")})
	v := all.Must()
	if len(v) != 3 || v[0] != "民法" {
		t.Fatal("Collect failed")
	}

	bad := Collect([]Result[string]{Ok("民法"), Err[string](errors.New("e1")), Err[string](errors.New("e2"))})
	_, err := bad.Unwrap()
	if err == nil || err.Error() != "e1" {
		t.Fatal("Collect should return first error")
	}

	empty := Collect([]Result[string]{})
	if !empty.IsOk() || len(empty.Must()) != 0 {
		t.Fatal("Collect empty should be ok")
	}
}

// --- Stage composition ---

func TestThen(t *testing.T) {
	double := func(_ context.Context, v int) Result[int] { return Ok(v * 2) }
	toStr := func(_ context.Context, v int) Result[string] { return Ok(strconv.Itoa(v)) }

	s := Then(double, toStr)
	got := s(context.Background(), 21).Must()
	if got != "42" {
		t.Fatalf("Then = %q, want 42", got)
	}
}

func TestThenShortCircuits(t *testing.T) {
	fail := func(_ context.Context, v int) Result[int] { return Err[int](errors.New("first failed")) }
	called := false
	second := func(_ context.Context, v int) Result[int] { called = true; return Ok(v) }

	r := Then(fail, second)(context.Background(), 1)
	if r.IsOk() {
		t.Fatal("expected error")
	}
	if called {
		t.Fatal("second stage should not run after error")
	}
}

func TestPipeline(t *testing.T) {
	inc := func(_ context.Context, v int) Result[int] { return Ok(v + 1) }
	p := Pipeline(inc, inc, inc)
	if p(context.Background(), 0).Must() != 3 {
		t.Fatal("Pipeline failed")
	}
}

func TestBatchStage(t *testing.T) {
	lengths := BatchStage(4, func(_ context.Context, s string) Result[int] {
		return Ok(len([]rune(s)))
	})
	got := lengths(context.Background(), []string{"労働基準法", "民法"}).Must()
	if got[0] != 5 || got[1] != 2 {
		t.Fatalf("BatchStage = %v", got)
	}
}

func TestBatchStageError(t *testing.T) {
	stage := BatchStage(2, func(_ context.Context, v int) Result[int] {
		if v < 0 {
			return Errf[int]("negative %d", v)
		}
		return Ok(v)
	})
	if stage(context.Background(), []int{1, -2, 3}).IsOk() {
		t.Fatal("expected batch error")
	}
}

func TestMapAndTapStage(t *testing.T) {
	m := MapStage(func(v int) int { return v * v })
	if m(context.Background(), 4).Must() != 16 {
		t.Fatal("MapStage failed")
	}

	var tapped int
	tap := TapStage(func(_ context.Context, v int) { tapped = v })
	if tap(context.Background(), 9).Must() != 9 || tapped != 9 {
		t.Fatal("TapStage failed")
	}
}

func TestTracedStage(t *testing.T) {
	ok := TracedStage("ok", func(_ context.Context, v int) Result[int] { return Ok(v) })
	if ok(context.Background(), 5).Must() != 5 {
		t.Fatal("TracedStage ok failed")
	}
	bad := TracedStage("bad", func(_ context.Context, v int) Result[int] {
		return Err[int](errors.New("x"))
	})
	if bad(context.Background(), 5).IsOk() {
		t.Fatal("TracedStage should pass through errors")
	}
}

// --- Retry ---

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(ctx context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(attempts)
	})
	if r.Must() != 3 || attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestRetryExhausts(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}, func(ctx context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("always"))
	})
	if r.IsOk() || attempts != 2 {
		t.Fatalf("attempts = %d, ok = %v", attempts, r.IsOk())
	}
}

func TestRetryShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("law not found")
	attempts := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	}
	r := Retry(context.Background(), opts, func(ctx context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if r.IsOk() {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("permanent error should not retry, attempts = %d", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: 10 * time.Millisecond}, func(ctx context.Context) Result[int] {
		return Err[int](errors.New("x"))
	})
	_, err := r.Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRetryStage(t *testing.T) {
	attempts := 0
	stage := RetryStage(RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}, func(_ context.Context, v int) Result[int] {
		attempts++
		if attempts == 1 {
			return Err[int](errors.New("flaky"))
		}
		return Ok(v)
	})
	if stage(context.Background(), 7).Must() != 7 {
		t.Fatal("RetryStage failed")
	}
}
