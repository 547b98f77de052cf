package service

import (
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

func grp(id string, seq int, deps ...string) *core.TaskGroup {
	return &core.TaskGroup{ID: id, SequenceOrder: seq, Dependencies: deps, Type: core.GroupSingle}
}

func TestGroupGraph_AddGroup(t *testing.T) {
	g := NewGroupGraph()
	if err := g.AddGroup(grp("grp-B", 0)); err != nil {
		t.Fatalf("AddGroup() error = %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
	if err := g.AddGroup(grp("grp-B", 0)); err == nil {
		t.Error("AddGroup() should fail for duplicate group")
	}
}

func TestGroupGraph_AddDependency(t *testing.T) {
	g := NewGroupGraph()
	_ = g.AddGroup(grp("grp-B", 0))
	_ = g.AddGroup(grp("grp-E", 1))

	if err := g.AddDependency("grp-E", "grp-B"); err != nil {
		t.Fatalf("AddDependency() error = %v", err)
	}
	_ = g.AddDependency("grp-E", "grp-B")

	if deps := g.Dependencies("grp-E"); len(deps) != 1 || deps[0] != "grp-B" {
		t.Errorf("Dependencies() = %v", deps)
	}
	if dependents := g.Dependents("grp-B"); len(dependents) != 1 || dependents[0] != "grp-E" {
		t.Errorf("Dependents() = %v", dependents)
	}
	if err := g.AddDependency("grp-E", "grp-Z"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("unknown dependency error = %v", err)
	}
}

func TestBuildGroupGraph_DropsUnknown(t *testing.T) {
	_, dropped, err := BuildGroupGraph([]*core.TaskGroup{
		grp("grp-B", 0),
		grp("grp-E", 1, "grp-B", "grp-Q"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(dropped) != 1 || dropped[0] != "grp-E->grp-Q" {
		t.Errorf("dropped = %v", dropped)
	}
}

func TestGroupGraph_BuildOrder(t *testing.T) {
	// H depends on E, E depends on B; K is independent but appears last.
	g, _, _ := BuildGroupGraph([]*core.TaskGroup{
		grp("grp-B", 0),
		grp("grp-E", 1, "grp-B"),
		grp("grp-H", 2, "grp-E"),
		grp("grp-K", 3),
	})
	order, err := g.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{"grp-B", "grp-K", "grp-E", "grp-H"}
	if len(order.Order) != len(want) {
		t.Fatalf("Order = %v", order.Order)
	}
	for i := range want {
		if order.Order[i] != want[i] {
			t.Fatalf("Order = %v, want %v", order.Order, want)
		}
	}
	if len(order.Levels) != 3 || len(order.Levels[0]) != 2 {
		t.Errorf("Levels = %v", order.Levels)
	}
}

func TestGroupGraph_CycleIsStructural(t *testing.T) {
	g, _, _ := BuildGroupGraph([]*core.TaskGroup{
		grp("grp-B", 0, "grp-E"),
		grp("grp-E", 1, "grp-B"),
	})
	_, err := g.Build()
	if !core.IsStructural(err) {
		t.Fatalf("Build() error = %v, want structural", err)
	}
}

func TestGroupGraph_ReadyGroups(t *testing.T) {
	g, _, _ := BuildGroupGraph([]*core.TaskGroup{
		grp("grp-B", 0),
		grp("grp-E", 1, "grp-B"),
		grp("grp-H", 2, "grp-E"),
	})

	ready := g.ReadyGroups(map[string]bool{}, nil)
	if len(ready) != 1 || ready[0].ID != "grp-B" {
		t.Fatalf("ReadyGroups() = %v", ready)
	}

	ready = g.ReadyGroups(map[string]bool{"grp-B": true}, nil)
	if len(ready) != 1 || ready[0].ID != "grp-E" {
		t.Fatalf("ReadyGroups(B done) = %v", ready)
	}

	// Dependencies outside the selected set count as satisfied.
	outside := func(id string) bool { return id == "grp-E" }
	ready = g.ReadyGroups(map[string]bool{}, outside)
	if len(ready) != 2 || ready[0].ID != "grp-B" || ready[1].ID != "grp-H" {
		t.Fatalf("ReadyGroups(with satisfied) = %v", ready)
	}
}
