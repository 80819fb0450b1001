package record

import (
	"reflect"
	"sync"
	"testing"
)

type Cached struct {
	Id   int64 `db:"pk,autoincrement"`
	Name string
}

func TestTypeCache_GetDerivesOnce(t *testing.T) {
	c := NewTypeCache()
	d1, err := c.Get(reflect.TypeOf(Cached{}))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	d2, err := c.Get(reflect.TypeOf(Cached{}))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d1 != d2 {
		t.Error("expected the same cached Descriptor pointer on repeat Get")
	}
}

func TestTypeCache_GetUnwrapsPointer(t *testing.T) {
	c := NewTypeCache()
	d, err := c.Get(reflect.TypeOf(&Cached{}))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.TableName != "Cached" {
		t.Errorf("expected table Cached, got %s", d.TableName)
	}
}

func TestTypeCache_RegisterOverridesDerivation(t *testing.T) {
	c := NewTypeCache()
	custom := &Descriptor{TableName: "custom_cached"}
	c.Register(reflect.TypeOf(Cached{}), custom)
	d, err := c.Get(reflect.TypeOf(Cached{}))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d != custom {
		t.Error("expected Register to win over lazy derivation")
	}
}

func TestTypeCache_Clear(t *testing.T) {
	c := NewTypeCache()
	d1, _ := c.Get(reflect.TypeOf(Cached{}))
	c.Clear()
	d2, _ := c.Get(reflect.TypeOf(Cached{}))
	if d1 == d2 {
		t.Error("expected Clear to force re-derivation")
	}
}

func TestTypeCache_ConcurrentGetFirstWriterWins(t *testing.T) {
	c := NewTypeCache()
	const n = 32
	results := make([]*Descriptor, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			d, err := c.Get(reflect.TypeOf(Cached{}))
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = d
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("expected all concurrent Get calls to observe the same Descriptor")
		}
	}
}
