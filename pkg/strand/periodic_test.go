package strand

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/meshrt/pkg/executor"
)

func TestPeriodicTask_StartImmediateFiresPromptly(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	fired := make(chan struct{}, 1)
	task := NewPeriodicTask(exec, func() error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}, time.Hour)
	task.Start(true)
	defer task.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("periodic_test - immediate start never fired")
	}
	if task.State() != Running {
		t.Errorf("periodic_test - state = %v, want Running", task.State())
	}
}

func TestPeriodicTask_RepeatsOnPeriod(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	var count int32
	task := NewPeriodicTask(exec, func() error {
		atomic.AddInt32(&count, 1)
		return nil
	}, 20*time.Millisecond)
	task.Start(true)
	defer task.Stop()

	time.Sleep(150 * time.Millisecond)
	if atomic.LoadInt32(&count) < 3 {
		t.Errorf("periodic_test - count = %d, want at least 3 fires", count)
	}
}

func TestPeriodicTask_TriggerForcesImmediateFire(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	fireCh := make(chan struct{}, 4)
	task := NewPeriodicTask(exec, func() error {
		fireCh <- struct{}{}
		return nil
	}, time.Hour)
	task.Start(false)
	defer task.Stop()

	time.Sleep(10 * time.Millisecond)
	if !task.Trigger() {
		t.Fatal("periodic_test - Trigger should succeed while Running")
	}

	select {
	case <-fireCh:
	case <-time.After(time.Second):
		t.Fatal("periodic_test - triggered fire never ran")
	}
}

func TestPeriodicTask_TriggerNoOpWhenNotRunning(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	task := NewPeriodicTask(exec, func() error { return nil }, time.Hour)
	if task.Trigger() {
		t.Error("periodic_test - Trigger should fail when Stopped")
	}
}

func TestPeriodicTask_StopBlocksUntilFireCompletes(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	inCallback := make(chan struct{})
	release := make(chan struct{})
	task := NewPeriodicTask(exec, func() error {
		close(inCallback)
		<-release
		return nil
	}, time.Hour)
	task.Start(true)

	<-inCallback
	stopDone := make(chan struct{})
	go func() {
		task.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("periodic_test - Stop returned before in-flight callback finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopDone:
	case <-time.After(time.Second):
		t.Fatal("periodic_test - Stop never returned after callback finished")
	}
	if task.State() != Stopped {
		t.Errorf("periodic_test - state = %v, want Stopped", task.State())
	}
}

func TestPeriodicTask_AsyncStopFromCallback(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	var count int32
	var task *PeriodicTask
	task = NewPeriodicTask(exec, func() error {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			task.AsyncStop()
		}
		return nil
	}, 10*time.Millisecond)
	task.Start(true)

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) > 2 {
		t.Errorf("periodic_test - count = %d, expected task to stop quickly after AsyncStop", count)
	}
}

func TestPeriodicTask_ErrorStopsTask(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	done := make(chan struct{})
	task := NewPeriodicTask(exec, func() error {
		close(done)
		return errors.New("boom")
	}, 10*time.Millisecond)
	task.Start(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic_test - callback never ran")
	}

	time.Sleep(30 * time.Millisecond)
	if task.State() != Stopped {
		t.Errorf("periodic_test - state = %v, want Stopped after callback error", task.State())
	}
}

func TestPeriodicTask_CompensateCallbackTime(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()

	var fires []time.Time
	task := NewPeriodicTask(exec, func() error {
		fires = append(fires, time.Now())
		time.Sleep(15 * time.Millisecond)
		return nil
	}, 30*time.Millisecond)
	task.CompensateCallbackTime = true
	task.Start(true)
	defer task.Stop()

	time.Sleep(150 * time.Millisecond)
	if len(fires) < 3 {
		t.Fatalf("periodic_test - only %d fires observed, want at least 3", len(fires))
	}
}
