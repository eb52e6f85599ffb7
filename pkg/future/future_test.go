package future

import (
	"errors"
	"testing"
	"time"
)

func TestFuture_SetValueThenWait(t *testing.T) {
	p, f := New[int]()
	p.SetValue(42)

	status, v, err := f.Wait(time.Second)
	if err != nil {
		t.Fatalf("future_test - unexpected error: %v", err)
	}
	if status != FinishedWithValue || v != 42 {
		t.Errorf("future_test - got status=%v value=%d, want FinishedWithValue/42", status, v)
	}
}

func TestFuture_WaitBlocksUntilSet(t *testing.T) {
	p, f := New[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.SetValue("done")
	}()

	status, v, err := f.Wait(time.Second)
	if err != nil || status != FinishedWithValue || v != "done" {
		t.Errorf("future_test - got status=%v value=%q err=%v", status, v, err)
	}
}

func TestFuture_WaitTimeout(t *testing.T) {
	_, f := New[int]()
	status, _, err := f.Wait(10 * time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("future_test - got err=%v, want ErrTimeout", err)
	}
	if status != Running {
		t.Errorf("future_test - got status=%v, want Running", status)
	}
}

func TestFuture_SetErrorPropagates(t *testing.T) {
	p, f := New[int]()
	want := errors.New("boom")
	p.SetError(want)

	status, _, err := f.Wait(time.Second)
	if status != FinishedWithError || err != want {
		t.Errorf("future_test - got status=%v err=%v, want FinishedWithError/%v", status, err, want)
	}
}

func TestFuture_DoubleSetIgnored(t *testing.T) {
	p, _ := New[int]()
	if !p.SetValue(1) {
		t.Fatal("future_test - first SetValue should succeed")
	}
	if p.SetValue(2) {
		t.Error("future_test - second SetValue should be rejected")
	}
}

func TestFuture_CancelRequestedObservedByProducer(t *testing.T) {
	p, f := New[int]()
	f.Cancel()
	if !p.IsCancelRequested() {
		t.Fatal("future_test - expected IsCancelRequested true after Cancel")
	}
	p.SetCanceled()

	status, _, err := f.Wait(time.Second)
	if status != Canceled || err != ErrCanceled {
		t.Errorf("future_test - got status=%v err=%v, want Canceled/ErrCanceled", status, err)
	}
}

func TestFuture_AutoCancel(t *testing.T) {
	p, f := New[int]()
	p.SetAutoCancel(true)
	f.Cancel()

	status, _, err := f.Wait(time.Second)
	if status != Canceled || err != ErrCanceled {
		t.Errorf("future_test - got status=%v err=%v, want Canceled/ErrCanceled", status, err)
	}
}

func TestFuture_OnFinishAfterCompletionFiresImmediately(t *testing.T) {
	p, f := New[int]()
	p.SetValue(7)

	fired := false
	f.OnFinish(func(status Status, v int, err error) {
		fired = true
		if status != FinishedWithValue || v != 7 {
			t.Errorf("future_test - callback got status=%v value=%d", status, v)
		}
	})
	if !fired {
		t.Error("future_test - OnFinish should fire synchronously for an already-finished future")
	}
}

func TestFuture_OnFinishBeforeCompletion(t *testing.T) {
	p, f := New[int]()
	resultCh := make(chan int, 1)
	f.OnFinish(func(status Status, v int, err error) {
		resultCh <- v
	})
	p.SetValue(9)

	select {
	case v := <-resultCh:
		if v != 9 {
			t.Errorf("future_test - got %d, want 9", v)
		}
	case <-time.After(time.Second):
		t.Fatal("future_test - callback never fired")
	}
}

func TestFuture_SetOnDestroyed(t *testing.T) {
	p, f := New[int]()
	destroyed := false
	f.SetOnDestroyed(func() { destroyed = true })
	p.SetValue(1)
	if !destroyed {
		t.Error("future_test - expected onDestroyed to fire after resolution")
	}
}

func TestThen_ChainsValue(t *testing.T) {
	p, f := New[int]()
	chained := Then(f, func(v int) (string, error) {
		return "v=" + string(rune('0'+v)), nil
	})
	p.SetValue(3)

	status, v, err := chained.Wait(time.Second)
	if err != nil || status != FinishedWithValue || v != "v=3" {
		t.Errorf("future_test - Then got status=%v value=%q err=%v", status, v, err)
	}
}

func TestThen_PropagatesError(t *testing.T) {
	p, f := New[int]()
	want := errors.New("upstream failed")
	chained := Then(f, func(v int) (int, error) { return v, nil })
	p.SetError(want)

	status, _, err := chained.Wait(time.Second)
	if status != FinishedWithError || err != want {
		t.Errorf("future_test - Then got status=%v err=%v, want FinishedWithError/%v", status, err, want)
	}
}

func TestThen_PropagatesCancel(t *testing.T) {
	p, f := New[int]()
	chained := Then(f, func(v int) (int, error) { return v, nil })
	p.SetCanceled()

	status, _, err := chained.Wait(time.Second)
	if status != Canceled || err != ErrCanceled {
		t.Errorf("future_test - Then got status=%v err=%v, want Canceled", status, err)
	}
}

func TestResolvedAndFailed(t *testing.T) {
	status, v, err := Resolved(5).Wait(time.Second)
	if status != FinishedWithValue || v != 5 || err != nil {
		t.Errorf("future_test - Resolved got status=%v value=%d err=%v", status, v, err)
	}

	wantErr := errors.New("nope")
	status, _, err = Failed[int](wantErr).Wait(time.Second)
	if status != FinishedWithError || err != wantErr {
		t.Errorf("future_test - Failed got status=%v err=%v", status, err)
	}
}
