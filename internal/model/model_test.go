package model

import (
	"errors"
	"math"
	"testing"
)

func TestSkewedCmp(t *testing.T) {
	for _, tc := range []struct {
		a, b uint64
		want bool
	}{
		{100, 100, true},
		{100, 109, true},
		{109, 100, true},
		{100, 110, false},
		{110, 100, false},
		{0, 9, true},
		{0, 10, false},
		{^uint64(0), ^uint64(0) - 9, true},
	} {
		if got := SkewedCmp(tc.a, tc.b); got != tc.want {
			t.Errorf("SkewedCmp(%d, %d) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestShave(t *testing.T) {
	for _, tc := range []struct {
		in, want uint64
	}{
		{100, 99},
		{1, 0},
		{0, 0},
	} {
		if got := Shave(tc.in); got != tc.want {
			t.Errorf("Shave(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNewSession_DefaultWindow(t *testing.T) {
	s := NewSession("s1", "process:a:1", 100, true)
	if s.EndTime != 201 {
		t.Errorf("EndTime = %d, want 201", s.EndTime)
	}
	if !s.IsCreateCanon || s.IsEndCanon || s.Version != 0 {
		t.Errorf("unexpected flags: %+v", s)
	}
}

func TestSession_Contains(t *testing.T) {
	s := NewSession("s1", "k", 100, true) // [100, 201)
	for _, tc := range []struct {
		ts   uint64
		want bool
	}{
		{150, true},
		{200, true},
		{201, true},
		{210, true},
		{211, false},
		{300, false},
	} {
		if got := s.Contains(tc.ts); got != tc.want {
			t.Errorf("Contains(%d) = %v, want %v", tc.ts, got, tc.want)
		}
	}
}

func TestAction_ParseAndString(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionUpdateOrCreate, ActionTerminate} {
		got, err := ParseAction(a.String())
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", a.String(), err)
		}
		if got != a {
			t.Errorf("ParseAction(%q) = %v, want %v", a.String(), got, a)
		}
	}
	if _, err := ParseAction("bogus"); err == nil {
		t.Error("ParseAction(bogus) should fail")
	}
}

func TestNode_IdentityProcess(t *testing.T) {
	n := NewProcess(&ProcessNode{
		NodeKey:          "tmp-1",
		AssetID:          "asset-1",
		State:            StateCreated,
		ProcessID:        42,
		CreatedTimestamp: 1000,
	})
	unid, action, err := n.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if unid.PseudoKey != "process:asset-1:42" {
		t.Errorf("PseudoKey = %q", unid.PseudoKey)
	}
	if unid.Timestamp != 1000 || !unid.IsCreation || action != ActionCreate {
		t.Errorf("unexpected identity: %+v %v", unid, action)
	}
}

func TestNode_IdentityLastSeen(t *testing.T) {
	n := NewFile(&FileNode{
		NodeKey:           "tmp-2",
		AssetID:           "asset-1",
		State:             StateExisting,
		FilePath:          "/etc/passwd",
		CreatedTimestamp:  10,
		LastSeenTimestamp: 500,
	})
	unid, action, err := n.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if unid.Timestamp != 500 || unid.IsCreation || action != ActionUpdateOrCreate {
		t.Errorf("unexpected identity: %+v %v", unid, action)
	}
	if unid.PseudoKey != "file:asset-1:/etc/passwd" {
		t.Errorf("PseudoKey = %q", unid.PseudoKey)
	}
}

func TestNode_IdentityConnectionKinds(t *testing.T) {
	in := NewInboundConnection(&ConnectionNode{NodeKey: "i", AssetID: "a", Port: 22, Protocol: "TCP", LastSeenTimestamp: 5})
	out := NewOutboundConnection(&ConnectionNode{NodeKey: "o", AssetID: "a", Port: 22, Protocol: "tcp", LastSeenTimestamp: 5})
	ui, _, err := in.Identity()
	if err != nil {
		t.Fatalf("inbound Identity: %v", err)
	}
	uo, _, err := out.Identity()
	if err != nil {
		t.Fatalf("outbound Identity: %v", err)
	}
	if ui.PseudoKey == uo.PseudoKey {
		t.Errorf("inbound and outbound share pseudo key %q", ui.PseudoKey)
	}
	if ui.PseudoKey != "inbound_connection:a:tcp:22" {
		t.Errorf("inbound PseudoKey = %q", ui.PseudoKey)
	}
}

func TestNode_IdentityMissingAsset(t *testing.T) {
	n := NewProcess(&ProcessNode{NodeKey: "tmp", ProcessID: 1, LastSeenTimestamp: 5})
	_, _, err := n.Identity()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Errors[0].Field != "asset_id" {
		t.Errorf("field = %q, want asset_id", ve.Errors[0].Field)
	}
}

func TestNode_IdentityIPAddress(t *testing.T) {
	n := NewIPAddress(&IPAddressNode{NodeKey: "ip", IPAddress: "10.0.0.1"})
	if n.Kind.HasSessions() {
		t.Fatal("ip_address should not carry sessions")
	}
	if _, _, err := n.Identity(); err == nil {
		t.Fatal("expected error for ip_address identity")
	}
}

func TestValidateNode(t *testing.T) {
	for _, tc := range []struct {
		name string
		node *Node
		ok   bool
	}{
		{"nil", nil, false},
		{"bad kind", &Node{Kind: "bogus"}, false},
		{"missing payload", &Node{Kind: KindFile}, false},
		{"file without path", NewFile(&FileNode{AssetID: "a", LastSeenTimestamp: 1}), false},
		{"created without timestamp", NewProcess(&ProcessNode{AssetID: "a", State: StateCreated, LastSeenTimestamp: 1}), false},
		{"bad state", NewProcess(&ProcessNode{AssetID: "a", State: "zombie", LastSeenTimestamp: 1}), false},
		{"valid process", NewProcess(&ProcessNode{AssetID: "a", LastSeenTimestamp: 1}), true},
		{"valid ip", NewIPAddress(&IPAddressNode{IPAddress: "::1"}), true},
	} {
		err := ValidateNode(tc.node)
		if (err == nil) != tc.ok {
			t.Errorf("%s: ValidateNode err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestValidateUnidSession(t *testing.T) {
	tests := []struct {
		name string
		in   UnidSession
		ok   bool
	}{
		{"valid", UnidSession{PseudoKey: "k", Timestamp: 100}, true},
		{"largest signed", UnidSession{PseudoKey: "k", Timestamp: MaxTimestamp}, true},
		{"missing key", UnidSession{Timestamp: 100}, false},
		{"above signed range", UnidSession{PseudoKey: "k", Timestamp: MaxTimestamp + 1}, false},
		{"max uint64", UnidSession{PseudoKey: "k", Timestamp: math.MaxUint64}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUnidSession(tt.in)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var ve *ValidationError
			if !tt.ok && !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
		})
	}
}

func TestGraph_AddNodeMerges(t *testing.T) {
	g := NewGraph()
	g.AddNode(NewProcess(&ProcessNode{NodeKey: "k", AssetID: "a", LastSeenTimestamp: 10}))
	g.AddNode(NewProcess(&ProcessNode{NodeKey: "k", AssetID: "a", ProcessName: "sshd", LastSeenTimestamp: 20}))
	if g.Len() != 1 {
		t.Fatalf("Len = %d, want 1", g.Len())
	}
	p := g.Nodes["k"].Process
	if p.LastSeenTimestamp != 20 || p.ProcessName != "sshd" {
		t.Errorf("merge result: %+v", p)
	}
}

func TestGraph_RemapEdges(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "children", "b")
	g.AddEdge("a", "created_files", "c")
	g.AddEdge("x", "children", "b")
	g.AddEdge("a2", "children", "b")

	g.RemapEdges(
		map[string]string{"a": "s-a", "a2": "s-a", "b": "s-b"},
		map[string]struct{}{"c": {}},
	)

	want := []Edge{
		{From: "s-a", To: "s-b", Name: "children"},
		{From: "x", To: "s-b", Name: "children"},
	}
	if len(g.Edges) != len(want) {
		t.Fatalf("edges = %+v, want %+v", g.Edges, want)
	}
	for i := range want {
		if g.Edges[i] != want[i] {
			t.Errorf("edge[%d] = %+v, want %+v", i, g.Edges[i], want[i])
		}
	}
}
