package schema

import (
	"errors"
	"reflect"
	"testing"
)

func testSchema(types ...Type) Schema {
	names := make([]string, len(types))
	for i := range types {
		names[i] = string(rune('a' + i))
	}
	return New(names, types)
}

func TestSetType_IndexOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		idx  int
	}{
		{"negative", -1},
		{"equal to len", 3},
		{"far past end", 100},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testSchema(Integer, Real, String)
			err := s.SetType(tt.idx, Real)
			if !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("SetType(%d) err=%v, want ErrIndexOutOfRange", tt.idx, err)
			}
			if err := s.SetRole(tt.idx, CoordX); !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("SetRole(%d) err=%v, want ErrIndexOutOfRange", tt.idx, err)
			}
		})
	}
}

func TestEffectiveType_OverrideWins(t *testing.T) {
	t.Parallel()

	s := testSchema(Integer, Real)
	if got, _ := s.EffectiveType(0); got != Integer {
		t.Fatalf("EffectiveType(0) = %v, want Integer", got)
	}
	if err := s.SetType(0, String); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	if got, _ := s.EffectiveType(0); got != String {
		t.Fatalf("EffectiveType(0) after override = %v, want String", got)
	}
	if s.Columns[0].Inferred != Integer {
		t.Fatalf("inferred type mutated: %v", s.Columns[0].Inferred)
	}
	if err := s.ClearType(0); err != nil {
		t.Fatalf("ClearType: %v", err)
	}
	if got, _ := s.EffectiveType(0); got != Integer {
		t.Fatalf("EffectiveType(0) after clear = %v, want Integer", got)
	}
}

func TestSetRole_SingleHolder(t *testing.T) {
	t.Parallel()

	s := testSchema(Real, Real, Real)
	if err := s.SetRole(0, CoordX); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRole(2, CoordX); err != nil {
		t.Fatal(err)
	}

	holders := 0
	for _, c := range s.Columns {
		if c.Role == CoordX {
			holders++
		}
	}
	if holders != 1 {
		t.Fatalf("CoordX holders = %d, want 1", holders)
	}
	if s.Columns[0].Role != None {
		t.Fatalf("column 0 role = %v, want cleared", s.Columns[0].Role)
	}
	if got := s.RoleHolder(CoordX); got != 2 {
		t.Fatalf("RoleHolder(CoordX) = %d, want 2", got)
	}
}

func TestSetRole_XAndYIndependent(t *testing.T) {
	t.Parallel()

	s := testSchema(Real, Real)
	_ = s.SetRole(0, CoordX)
	_ = s.SetRole(1, CoordY)
	if s.RoleHolder(CoordX) != 0 || s.RoleHolder(CoordY) != 1 {
		t.Fatalf("roles = %+v", s.Columns)
	}

	// Moving CoordX onto the CoordY holder replaces its role.
	_ = s.SetRole(1, CoordX)
	if s.RoleHolder(CoordX) != 1 || s.RoleHolder(CoordY) != -1 || s.Columns[0].Role != None {
		t.Fatalf("roles after move = %+v", s.Columns)
	}

	_ = s.SetRole(1, None)
	if s.RoleHolder(CoordX) != -1 {
		t.Fatalf("None did not clear role: %+v", s.Columns)
	}
}

func TestNumericColumns_ExcludesInteger(t *testing.T) {
	t.Parallel()

	s := testSchema(Real, Integer, Real)
	if got, want := s.NumericColumns(), []int{0, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("NumericColumns() = %v, want %v", got, want)
	}

	_ = s.SetType(1, Real)
	_ = s.SetType(2, String)
	if got, want := s.NumericColumns(), []int{0, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("NumericColumns() after overrides = %v, want %v", got, want)
	}
}

func TestIndexOf_DuplicatesKeepPosition(t *testing.T) {
	t.Parallel()

	s := New([]string{"v", "w", "v"}, []Type{Integer, Real, String})
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if got := s.IndexOf("v"); got != 0 {
		t.Fatalf("IndexOf(v) = %d, want 0", got)
	}
	if got := s.IndexOf("missing"); got != -1 {
		t.Fatalf("IndexOf(missing) = %d, want -1", got)
	}
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	s := testSchema(Integer)
	_ = s.SetType(0, Real)
	c := s.Clone()
	_ = c.SetType(0, String)
	if got, _ := s.EffectiveType(0); got != Real {
		t.Fatalf("original mutated through clone: %v", got)
	}
}

func TestParseTypeAndRole(t *testing.T) {
	t.Parallel()

	types := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"Integer", Integer, false},
		{"REAL", Real, false},
		{" string ", String, false},
		{"date", String, true},
	}
	for _, tt := range types {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Fatalf("ParseType(%q) = (%v,%v), want (%v, err=%v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}

	roles := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"x", CoordX, false},
		{"CoordY", CoordY, false},
		{"none", None, false},
		{"", None, false},
		{"z", None, true},
	}
	for _, tt := range roles {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseRole(%q) = (%v,%v), want (%v, err=%v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
