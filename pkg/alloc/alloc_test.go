package alloc

import (
	"errors"
	"net/netip"
	"reflect"
	"testing"

	"meshforge/pkg/mesh"
)

func mustSubnet(t *testing.T, s string) mesh.Subnet {
	t.Helper()
	subnet, err := mesh.ParseSubnet(s)
	if err != nil {
		t.Fatalf("ParseSubnet(%q): %v", s, err)
	}
	return subnet
}

func node(name string) mesh.NodeSpec {
	return mesh.NodeSpec{Name: name}
}

func fixedNode(name, addr string) mesh.NodeSpec {
	return mesh.NodeSpec{Name: name, Address: netip.MustParseAddr(addr)}
}

func TestAllocateFreeNodes(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/24")
	nodes := []mesh.NodeSpec{node("charlie"), node("alice"), node("bob")}

	got, err := Allocate(subnet, nodes)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Sorted by name against ascending addresses.
	want := Assignment{
		"alice":   netip.MustParseAddr("10.0.0.1"),
		"bob":     netip.MustParseAddr("10.0.0.2"),
		"charlie": netip.MustParseAddr("10.0.0.3"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Allocate = %v, want %v", got, want)
	}
}

func TestAllocateFixedAndFree(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/24")
	nodes := []mesh.NodeSpec{
		fixedNode("pinned", "10.0.0.1"),
		node("alice"),
		fixedNode("server", "10.0.0.3"),
		node("bob"),
	}

	got, err := Allocate(subnet, nodes)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	want := Assignment{
		"pinned": netip.MustParseAddr("10.0.0.1"),
		"server": netip.MustParseAddr("10.0.0.3"),
		"alice":  netip.MustParseAddr("10.0.0.2"),
		"bob":    netip.MustParseAddr("10.0.0.4"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Allocate = %v, want %v", got, want)
	}
}

func TestAllocateUnnamedFixedClaim(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/24")
	// Name validation happens upstream; an unnamed fixed claim must still
	// occupy its address so no free node collides with it.
	nodes := []mesh.NodeSpec{
		fixedNode("", "10.0.0.1"),
		node("alice"),
	}

	got, err := Allocate(subnet, nodes)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := Assignment{
		"":      netip.MustParseAddr("10.0.0.1"),
		"alice": netip.MustParseAddr("10.0.0.2"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Allocate = %v, want %v", got, want)
	}
}

func TestAllocateIdempotent(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/28")
	nodes := []mesh.NodeSpec{
		node("delta"), fixedNode("echo", "10.0.0.9"), node("alpha"), node("bravo"),
	}

	first, err := Allocate(subnet, nodes)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := Allocate(subnet, nodes)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("allocation not idempotent: %v vs %v", first, second)
	}
}

func TestAllocateInputOrderIndependent(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/24")
	forward := []mesh.NodeSpec{node("a"), node("b"), node("c")}
	reversed := []mesh.NodeSpec{node("c"), node("b"), node("a")}

	first, err := Allocate(subnet, forward)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := Allocate(subnet, reversed)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("allocation depends on input order: %v vs %v", first, second)
	}
}

func TestAllocateDuplicateAddress(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/24")
	nodes := []mesh.NodeSpec{
		fixedNode("first", "10.0.0.5"),
		fixedNode("second", "10.0.0.5"),
	}

	_, err := Allocate(subnet, nodes)
	var dup *DuplicateAddressError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAddressError, got %v", err)
	}
	if dup.Address != netip.MustParseAddr("10.0.0.5") {
		t.Errorf("error address = %s", dup.Address)
	}
	if dup.First != "first" || dup.Second != "second" {
		t.Errorf("error nodes = %q, %q", dup.First, dup.Second)
	}
}

func TestAllocateOutOfRange(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/24")

	tests := []struct {
		name string
		addr string
	}{
		{"network address", "10.0.0.0"},
		{"broadcast address", "10.0.0.255"},
		{"outside subnet", "10.0.1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(subnet, []mesh.NodeSpec{fixedNode("n", tt.addr)})
			var oor *OutOfRangeError
			if !errors.As(err, &oor) {
				t.Fatalf("expected OutOfRangeError, got %v", err)
			}
			if oor.Node != "n" {
				t.Errorf("error node = %q", oor.Node)
			}
		})
	}
}

func TestAllocateCapacityExceeded(t *testing.T) {
	// A /30 has exactly 2 usable addresses.
	subnet := mustSubnet(t, "10.0.0.0/30")
	nodes := []mesh.NodeSpec{node("a"), node("b"), node("c")}

	_, err := Allocate(subnet, nodes)
	var capErr *CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if capErr.Capacity != 2 || capErr.Nodes != 3 {
		t.Errorf("error = %+v", capErr)
	}
}

func TestAllocateFullSubnet(t *testing.T) {
	subnet := mustSubnet(t, "10.0.0.0/30")
	nodes := []mesh.NodeSpec{node("a"), fixedNode("b", "10.0.0.2")}

	got, err := Allocate(subnet, nodes)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := Assignment{
		"a": netip.MustParseAddr("10.0.0.1"),
		"b": netip.MustParseAddr("10.0.0.2"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Allocate = %v, want %v", got, want)
	}
}

func TestAssignmentNames(t *testing.T) {
	a := Assignment{
		"zulu":  netip.MustParseAddr("10.0.0.3"),
		"alpha": netip.MustParseAddr("10.0.0.1"),
		"mike":  netip.MustParseAddr("10.0.0.2"),
	}
	want := []string{"alpha", "mike", "zulu"}
	if got := a.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
