package txn

import (
	"reflect"
	"testing"
)

func TestBufferLifecycle(t *testing.T) {
	b := NewBuffer()
	if b.Active() {
		t.Fatal("new buffer must be inactive")
	}

	b.Activate()
	b.StageWrite("a", "1")
	b.StageDelete("b")
	if !b.Active() || b.Len() != 2 {
		t.Fatalf("active=%v len=%d", b.Active(), b.Len())
	}

	b.Deactivate()
	if b.Active() || b.Len() != 0 {
		t.Fatalf("after Deactivate: active=%v len=%d", b.Active(), b.Len())
	}

	b.StageWrite("stale", "x")
	b.Activate()
	if b.Len() != 0 {
		t.Fatal("Activate must clear leftovers")
	}
}

func TestBufferWritesAndDeletesStayDisjoint(t *testing.T) {
	b := NewBuffer()
	b.Activate()

	b.StageWrite("k", "v1")
	b.StageDelete("k")
	if v, deleted, ok := b.Lookup("k"); !ok || !deleted || v != "" {
		t.Fatalf("after delete: %q,%v,%v", v, deleted, ok)
	}
	if _, inWrites := b.writes["k"]; inWrites {
		t.Fatal("k still staged as write")
	}

	b.StageWrite("k", "v2")
	if v, deleted, ok := b.Lookup("k"); !ok || deleted || v != "v2" {
		t.Fatalf("after rewrite: %q,%v,%v", v, deleted, ok)
	}
	if _, inDeletes := b.deletes["k"]; inDeletes {
		t.Fatal("k still staged as delete")
	}

	if _, _, ok := b.Lookup("untouched"); ok {
		t.Fatal("untouched key reported as staged")
	}
}

func TestBufferBatchIsACopy(t *testing.T) {
	b := NewBuffer()
	b.Activate()
	b.StageWrite("w", "1")
	b.StageDelete("z")
	b.StageDelete("d")

	batch := b.Batch()
	if !reflect.DeepEqual(batch.Deletes, []string{"d", "z"}) {
		t.Fatalf("deletes not sorted: %v", batch.Deletes)
	}

	b.Reset()
	if batch.Writes["w"] != "1" || len(batch.Deletes) != 2 {
		t.Fatal("Reset mutated a previously returned batch")
	}
}

func TestBufferPending(t *testing.T) {
	b := NewBuffer()
	b.Activate()
	b.StageWrite("", "empty key is the engine's problem")
	b.StageWrite("k", "")

	p := b.Pending()
	if !p.Active || len(p.Writes) != 2 || p.Writes["k"] != "" {
		t.Fatalf("unexpected pending view %+v", p)
	}
}
