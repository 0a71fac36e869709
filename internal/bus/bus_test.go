package bus

import (
	"errors"
	"fmt"
	"testing"
)

func TestPartitionForIsStableAndBounded(t *testing.T) {
	const partitions = 3
	for _, key := range []string{"1", "42", "9999", "abc"} {
		first := partitionFor(key, partitions)
		if first < 0 || first >= partitions {
			t.Fatalf("partitionFor(%q) = %d, out of range", key, first)
		}
		for i := 0; i < 10; i++ {
			if got := partitionFor(key, partitions); got != first {
				t.Fatalf("partitionFor(%q) not stable: %d then %d", key, first, got)
			}
		}
	}
}

func TestPartitionForSpreadsKeys(t *testing.T) {
	const partitions = 3
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		seen[partitionFor(fmt.Sprintf("%d", i), partitions)] = true
	}
	if len(seen) != partitions {
		t.Errorf("100 keys landed on %d of %d partitions", len(seen), partitions)
	}
}

func TestQueueNaming(t *testing.T) {
	if got := partitionQueue("orders.validation.v1", 2); got != "orders.validation.v1.2" {
		t.Errorf("partitionQueue = %q", got)
	}
	if got := deadLetterQueue("orders.validation.v1"); got != "orders.validation.v1.dlq" {
		t.Errorf("deadLetterQueue = %q", got)
	}
}

func TestNonRetryableClassification(t *testing.T) {
	base := errors.New("bad payload")

	if IsNonRetryable(base) {
		t.Error("plain error must be retryable")
	}
	if !IsNonRetryable(NonRetryable(base)) {
		t.Error("wrapped error must be non-retryable")
	}
	// Classification survives further wrapping.
	wrapped := fmt.Errorf("handler: %w", NonRetryable(base))
	if !IsNonRetryable(wrapped) {
		t.Error("classification must survive wrapping")
	}
	if !errors.Is(NonRetryable(base), base) {
		t.Error("NonRetryable must preserve the underlying error")
	}
}

func TestConsumerParallelismCap(t *testing.T) {
	c := NewConsumer(nil, 3, 2)
	if got := cap(c.slots); got != 2 {
		t.Errorf("slot pool capacity = %d, want 2", got)
	}
	c = NewConsumer(nil, 3, 0)
	if got := cap(c.slots); got != 3 {
		t.Errorf("unset parallelism should default to one slot per partition, got %d", got)
	}
}
