package canon

import (
	"errors"
	"regexp"
	"testing"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// TestHashKnownVector pins the encoding of the empty map
func TestHashKnownVector(t *testing.T) {
	got := Hash(Map{})
	want := "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestHashFormat(t *testing.T) {
	h := Hash(Map{"a": String("b")})
	if !hexDigest.MatchString(h) {
		t.Errorf("Expected 64 lowercase hex chars, got %q", h)
	}
}

// TestStringListsAreSets tests that string-only lists are order independent
func TestStringListsAreSets(t *testing.T) {
	a := Map{"addOns": Strings([]string{"gentle-checkin", "door-awareness"})}
	b := Map{"addOns": Strings([]string{"door-awareness", "gentle-checkin"})}

	if Hash(a) != Hash(b) {
		t.Error("Expected identical hashes for permuted string list")
	}
}

// TestStructuredListsKeepOrder tests that lists of maps are order sensitive
func TestStructuredListsKeepOrder(t *testing.T) {
	first := Map{"item": String("hub"), "qty": Number(1)}
	second := Map{"item": String("sensor"), "qty": Number(2)}

	a := Map{"hardware": List{first, second}}
	b := Map{"hardware": List{second, first}}

	if Hash(a) == Hash(b) {
		t.Error("Expected different hashes for reordered structured list")
	}
}

func TestMixedListKeepsOrder(t *testing.T) {
	a := List{String("b"), Number(1), String("a")}
	b := List{String("a"), Number(1), String("b")}

	if Hash(a) == Hash(b) {
		t.Error("Expected mixed lists to keep their order")
	}
}

// TestMapKeyOrderIrrelevant tests that construction order of maps is irrelevant
func TestMapKeyOrderIrrelevant(t *testing.T) {
	a := FromAny(map[string]any{
		"b": 2,
		"a": map[string]any{"y": 2, "x": 1},
	})
	b := FromAny(map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": 2,
	})

	if Hash(a) != Hash(b) {
		t.Error("Expected same hash for same logical map")
	}
}

func TestEncodeSortsKeys(t *testing.T) {
	data, err := Encode(Map{
		"zeta":  Bool(true),
		"alpha": List{String("y"), String("x")},
		"mid":   Null{},
		"num":   Number(4950),
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := `{"alpha":["x","y"],"mid":null,"num":4950,"zeta":true}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}

// TestHashSensitivity tests that any single field change alters the hash
func TestHashSensitivity(t *testing.T) {
	base := Map{
		"accepted": Bool(false),
		"signer":   String("Ana"),
		"total":    Number(5590),
	}
	original := Hash(base)

	variants := []struct {
		name string
		key  string
		val  Value
	}{
		{"Flip accepted", "accepted", Bool(true)},
		{"Change signer", "signer", String("Ana B")},
		{"Change total", "total", Number(5591)},
	}

	for _, tt := range variants {
		t.Run(tt.name, func(t *testing.T) {
			changed := Map{}
			for k, v := range base {
				changed[k] = v
			}
			changed[tt.key] = tt.val

			if Hash(changed) == original {
				t.Errorf("Expected hash to change when %s changes", tt.key)
			}
		})
	}
}

func TestCanonicalizeDoesNotMutateInput(t *testing.T) {
	in := List{String("c"), String("a"), String("b")}
	Canonicalize(in)

	if in[0] != String("c") || in[1] != String("a") {
		t.Errorf("Expected input to be untouched, got %v", in)
	}
}

func TestNilBecomesNull(t *testing.T) {
	if Hash(Map{"x": nil}) != Hash(Map{"x": Null{}}) {
		t.Error("Expected nil and Null to hash identically")
	}
}

// TestCycleFailsFast tests that cyclic structures panic instead of truncating
func TestCycleFailsFast(t *testing.T) {
	t.Run("Map", func(t *testing.T) {
		m := Map{}
		m["self"] = m
		assertCyclePanic(t, func() { Canonicalize(m) })
	})

	t.Run("List", func(t *testing.T) {
		l := make(List, 2)
		l[0] = String("x")
		l[1] = l
		assertCyclePanic(t, func() { Canonicalize(l) })
	})

	t.Run("FromAny", func(t *testing.T) {
		m := map[string]any{}
		m["self"] = m
		assertCyclePanic(t, func() { FromAny(m) })
	})

	t.Run("Shared subtree is not a cycle", func(t *testing.T) {
		shared := Map{"k": String("v")}
		Canonicalize(Map{"a": shared, "b": shared})
	})
}

func assertCyclePanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Expected panic for cyclic structure")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrCycle) {
			t.Errorf("Expected ErrCycle, got %v", r)
		}
	}()
	fn()
}

func TestNonFiniteNumberIsRejected(t *testing.T) {
	zero := 0.0
	if _, err := Sum(Map{"n": Number(1 / zero)}); err == nil {
		t.Error("Expected error for infinite number")
	}
}

func TestFromAnyUnsupportedTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for unsupported type")
		}
	}()
	FromAny(make(chan int))
}
