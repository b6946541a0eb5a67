package informer

import (
	"context"
	"testing"
	"time"
)

func TestNoOpInformerDiscardsEvents(t *testing.T) {
	inf := NoOp()
	defer inf.Close()

	err := inf.Publish(context.Background(), LivenessEvent{
		Kind: KindSandboxStarted,
		Time: time.Now(),
	})
	if err != nil {
		t.Fatalf("Publish on NoOp informer: %v", err)
	}
}

func TestNewWithNoEndpointsReturnsNoOp(t *testing.T) {
	inf, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil): %v", err)
	}
	if _, ok := inf.(noopInformer); !ok {
		t.Fatalf("New(nil) did not return the no-op informer")
	}
}
