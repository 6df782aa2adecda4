package tenant

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRegistryGetUnknown(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if _, err := r.Get("g1"); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("error = %v, want ErrUnknownTenant", err)
	}
	if err := r.Add(Tenant{ID: " "}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestRegistryListSkipsDisabled(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_ = r.Add(Tenant{ID: "g2", Enabled: true})
	_ = r.Add(Tenant{ID: "g1", Enabled: true})
	_ = r.Add(Tenant{ID: "g3", Enabled: false})

	var ids []string
	for _, tn := range r.List() {
		ids = append(ids, tn.ID)
	}
	if !reflect.DeepEqual(ids, []string{"g1", "g2"}) {
		t.Fatalf("List ids = %v", ids)
	}
	if !r.Remove("g3") || r.Remove("g3") {
		t.Fatal("Remove should report presence once")
	}
}

func TestRegistrySync(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Sync([]Tenant{{ID: "g1", Enabled: true}, {ID: "g2", Enabled: true}})

	added, removed := r.Sync([]Tenant{{ID: "g2", Name: "renamed", Enabled: true}, {ID: "g3", Enabled: true}, {ID: ""}})
	if !reflect.DeepEqual(added, []string{"g3"}) || !reflect.DeepEqual(removed, []string{"g1"}) {
		t.Fatalf("Sync added=%v removed=%v", added, removed)
	}
	g2, err := r.Get("g2")
	if err != nil || g2.Name != "renamed" {
		t.Fatalf("g2 = %+v, %v", g2, err)
	}
	if g2.Loc() != time.UTC {
		t.Fatal("unset location should default to UTC")
	}
}
