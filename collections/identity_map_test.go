package collections

import "testing"

type widget struct{ name string }

func TestSyncIdentityMapIdentityNotEquality(t *testing.T) {
	t.Parallel()

	m := NewSyncIdentityMap[string]()
	a := &widget{name: "same-name"}
	b := &widget{name: "same-name"}

	m.Put(a, "value-a")
	m.Put(b, "value-b")

	gotA, ok := m.Get(a)
	if !ok || gotA != "value-a" {
		t.Fatalf("Get(a) = (%q, %v), want (\"value-a\", true)", gotA, ok)
	}
	gotB, ok := m.Get(b)
	if !ok || gotB != "value-b" {
		t.Fatalf("Get(b) = (%q, %v), want (\"value-b\", true)", gotB, ok)
	}
	if m.Size() != 2 {
		t.Fatalf("Size = %d, want 2 (distinct identities despite equal contents)", m.Size())
	}
}

func TestSyncIdentityMapRemove(t *testing.T) {
	t.Parallel()

	m := NewSyncIdentityMap[int]()
	key := &widget{}
	m.Put(key, 7)
	m.Remove(key)

	if _, ok := m.Get(key); ok {
		t.Fatal("Get after Remove returned ok=true")
	}
	if m.Size() != 0 {
		t.Fatalf("Size after Remove = %d, want 0", m.Size())
	}
}

func TestSyncIdentityMapValues(t *testing.T) {
	t.Parallel()

	m := NewSyncIdentityMap[int]()
	m.Put(&widget{}, 1)
	m.Put(&widget{}, 2)
	m.Put(&widget{}, 3)

	values := m.Values()
	if len(values) != 3 {
		t.Fatalf("len(Values()) = %d, want 3", len(values))
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	if sum != 6 {
		t.Errorf("sum of Values() = %d, want 6", sum)
	}
}
