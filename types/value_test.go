package types

import (
	"encoding/json"
	"testing"
)

func TestValue_ScalarAccessors(t *testing.T) {
	t.Parallel()

	if !Null().IsNull() {
		t.Fatalf("zero value must be null")
	}

	s := String("hello")
	if got, ok := s.AsString(); !ok || got != "hello" {
		t.Fatalf("AsString = %q, %v", got, ok)
	}
	if _, ok := s.AsNumber(); ok {
		t.Fatalf("string must not read as number")
	}

	n := Int(7)
	if got, ok := n.AsInt(); !ok || got != 7 {
		t.Fatalf("AsInt = %d, %v", got, ok)
	}
	if got, ok := n.AsNumber(); !ok || got != 7 {
		t.Fatalf("AsNumber = %v, %v", got, ok)
	}

	b := Bool(true)
	if got, ok := b.AsBool(); !ok || !got {
		t.Fatalf("AsBool = %v, %v", got, ok)
	}
}

func TestValue_Containers(t *testing.T) {
	t.Parallel()

	l := List(String("a"), Int(2))
	if l.Len() != 2 {
		t.Fatalf("list length = %d", l.Len())
	}
	items, ok := l.AsList()
	if !ok || len(items) != 2 {
		t.Fatalf("AsList failed")
	}

	m := Map(map[string]Value{"days": Int(5), "ok": Bool(true)})
	if m.Len() != 2 {
		t.Fatalf("map length = %d", m.Len())
	}
	if got, ok := m.Get("days").AsInt(); !ok || got != 5 {
		t.Fatalf("Get(days) = %d, %v", got, ok)
	}
	if !m.Get("missing").IsNull() {
		t.Fatalf("missing key must be null")
	}
}

func TestValue_Text(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Value
		want string
	}{
		{Null(), ""},
		{String("x"), "x"},
		{Int(3), "3"},
		{Number(2.5), "2.5"},
		{Bool(false), "false"},
		{List(Int(1), Int(2)), "[1, 2]"},
		{Map(map[string]Value{"b": Int(2), "a": Int(1)}), "{a=1, b=2}"},
	}
	for _, c := range cases {
		if got := c.in.Text(); got != c.want {
			t.Fatalf("Text(%v) = %q, want %q", c.in.Kind(), got, c.want)
		}
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	original := Map(map[string]Value{
		"task":  String("collect data"),
		"count": Int(3),
		"done":  Bool(false),
		"tags":  List(String("a"), String("b")),
		"inner": Map(map[string]Value{"k": Number(1.5)}),
	})

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Value
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !original.Equal(decoded) {
		t.Fatalf("round trip mismatch: %s vs %s", original.Text(), decoded.Text())
	}
}

func TestValue_FromAny(t *testing.T) {
	t.Parallel()

	v := FromAny(map[string]any{
		"name":  "report",
		"days":  float64(7),
		"exact": 7,
		"flags": []any{true, nil},
	})
	if v.Kind() != KindMap {
		t.Fatalf("expected map, got %v", v.Kind())
	}
	if got, _ := v.Get("days").AsInt(); got != 7 {
		t.Fatalf("days = %d", got)
	}
	if got, _ := v.Get("exact").AsInt(); got != 7 {
		t.Fatalf("exact = %d", got)
	}
	flags, _ := v.Get("flags").AsList()
	if len(flags) != 2 || !flags[1].IsNull() {
		t.Fatalf("flags not preserved: %v", v.Get("flags").Text())
	}
}

func TestSplitToolName(t *testing.T) {
	t.Parallel()

	server, tool := SplitToolName("tracker.create_task")
	if server != "tracker" || tool != "create_task" {
		t.Fatalf("split = %q, %q", server, tool)
	}

	server, tool = SplitToolName("orphan")
	if server != "unknown" || tool != "orphan" {
		t.Fatalf("dotless split = %q, %q", server, tool)
	}

	server, tool = SplitToolName("a.b.c")
	if server != "a" || tool != "b.c" {
		t.Fatalf("first-dot split = %q, %q", server, tool)
	}
}
