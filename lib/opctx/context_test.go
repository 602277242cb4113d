package opctx

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestOperationContext(t *testing.T) {
	t.Run("InsertionOrder", func(t *testing.T) {
		oc := New(CacheOperation)
		oc.Add(FieldClientID, "client")
		oc.Add(FieldClientLastViewID, int64(3))
		oc.Add(FieldClientID, "other")

		want := []FieldName{FieldOperationType, FieldClientID, FieldClientLastViewID}
		if got := oc.Fields(); !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
		if oc.ClientID() != "other" {
			t.Errorf("expected overwritten client id, got %q", oc.ClientID())
		}
	})

	t.Run("Remove", func(t *testing.T) {
		oc := New(CacheOperation)
		oc.Add(FieldReadThru, true)
		oc.Add(FieldWriteThru, true)
		oc.Remove(FieldReadThru)
		oc.Remove(FieldReadThru)

		if oc.Contains(FieldReadThru) || oc.Bool(FieldReadThru) {
			t.Error("field still present")
		}
		want := []FieldName{FieldOperationType, FieldWriteThru}
		if got := oc.Fields(); !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		oc := &OperationContext{}
		if oc.OperationType() != CacheOperation {
			t.Error("expected default operation type")
		}
		if _, ok := oc.ClientLastViewID(); ok {
			t.Error("view id must be absent")
		}
		if oc.ItemVersion() != 0 || oc.Timeout() != 0 || oc.String(FieldIntendedRecipient) != "" {
			t.Error("expected zero values")
		}
		if oc.Context() != context.Background() || oc.Err() != nil {
			t.Error("expected background context")
		}
	})

	t.Run("ItemVersionRoundTrip", func(t *testing.T) {
		oc := New(CacheOperation)
		oc.SetItemVersion(17)
		if oc.ItemVersion() != 17 {
			t.Errorf("expected 17, got %d", oc.ItemVersion())
		}
	})

	t.Run("Cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		oc := New(CacheOperation)
		oc.Add(FieldCancellationToken, ctx)
		oc.Add(FieldClientOperationTimeout, time.Second)
		if oc.Err() != nil {
			t.Fatal("context must not be done yet")
		}
		cancel()
		if oc.Err() == nil {
			t.Error("expected cancellation")
		}
		if oc.Timeout() != time.Second {
			t.Error("expected timeout")
		}
	})

	t.Run("ResetLeasable", func(t *testing.T) {
		oc := New(InternalOperation)
		oc.Add(FieldClientID, "c")
		oc.Add(FieldItemVersion, uint64(4))
		oc.ResetLeasable()
		if oc.Len() != 0 || oc.Contains(FieldClientID) || oc.ItemVersion() != 0 {
			t.Errorf("context not reset: %s", oc.Describe())
		}
	})

	t.Run("Describe", func(t *testing.T) {
		oc := New(CacheOperation)
		oc.Add(FieldClientID, "c")
		oc.Add(FieldCancellationToken, context.Background())
		want := "{OperationType=CacheOperation, ClientId=c, CancellationToken=<ctx>}"
		if got := oc.Describe(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})
}
