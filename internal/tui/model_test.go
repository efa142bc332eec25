package tui

import (
	"errors"
	"testing"

	"github.com/qingrongy/logtmpl/pkg/interfaces"
)

func TestApplyTracksMatchingAndFailures(t *testing.T) {
	m := New(nil)
	m.apply(interfaces.StageEvent{Kind: interfaces.StageMatching, LibraryID: "svc", Count: 3, Total: 5})
	m.apply(interfaces.StageEvent{Kind: interfaces.StageUpdate})
	m.apply(interfaces.StageEvent{Kind: interfaces.StageFailure, Err: errors.New("boom")})

	if m.libraryID != "svc" {
		t.Fatalf("expected library id tracked, got %q", m.libraryID)
	}
	if m.matched != 3 || m.total != 5 {
		t.Fatalf("expected matched=3 total=5, got matched=%d total=%d", m.matched, m.total)
	}
	if m.newTmpls != 1 {
		t.Fatalf("expected one new template counted, got %d", m.newTmpls)
	}
	if m.failures != 1 || m.lastErr == nil {
		t.Fatalf("expected one failure recorded with an error, got failures=%d err=%v", m.failures, m.lastErr)
	}
}

func TestChannelObserverDropsRatherThanBlocks(t *testing.T) {
	obs := NewChannelObserver(0)
	done := make(chan struct{})
	go func() {
		obs.OnStage(interfaces.StageEvent{Kind: interfaces.StageRouting})
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done // OnStage must return even though nothing is reading Events()
}
