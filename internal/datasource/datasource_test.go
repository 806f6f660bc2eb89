package datasource

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"csvconf/internal/numfmt"
)

func TestOpen_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "/tmp/data.unknownfmt", Options{})
	if !errors.Is(err, ErrSourceOpen) {
		t.Fatalf("err = %v, want ErrSourceOpen", err)
	}
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestRegister_DispatchAndWrapErrors(t *testing.T) {
	t.Parallel()

	Register(".memtest", func(ctx context.Context, path string, opts Options) (Source, error) {
		if path == "bad.memtest" {
			return nil, errors.New("boom")
		}
		return NewMemory([]Field{{Name: "a", Native: NativeInteger}}, nil), nil
	})

	src, err := Open(context.Background(), "good.MEMTEST", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fields, _ := src.Fields()
	if len(fields) != 1 || fields[0].Name != "a" {
		t.Fatalf("fields = %+v", fields)
	}

	_, err = Opener(Options{})(context.Background(), "bad.memtest")
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Path != "bad.memtest" || !errors.Is(err, ErrSourceOpen) {
		t.Fatalf("err = %v, want *OpenError for bad.memtest", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate Register did not panic")
		}
	}()
	Register(".memtest", func(context.Context, string, Options) (Source, error) { return nil, nil })
}

func TestDetectTypes(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"1", "1.5", "abc", "2024-01-02", "5000000000", "", "12:30:00", "2024-01-02 10:00:00"},
		{"2", "2", "", "2024-02-03", "7", "", "08:00", "2024-01-02T11:00:00"},
		{"-3", "", "x", "", "", "", "", ""},
		{"4"}, // short row contributes nothing for missing columns
	}
	got := DetectTypes(8, rows, numfmt.Default())
	want := []NativeType{
		NativeInteger,
		NativeReal,
		NativeString,
		NativeDate,
		NativeInteger64,
		NativeString,
		NativeTime,
		NativeDateTime,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DetectTypes = %v, want %v", got, want)
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	p := numfmt.Default()
	tests := []struct {
		name   string
		native NativeType
		raw    string
		want   any
	}{
		{"integer", NativeInteger, "12", int64(12)},
		{"integer empty is unset", NativeInteger, "", nil},
		{"integer unparsable kept", NativeInteger64, "n/a", "n/a"},
		{"real", NativeReal, " 2.5 ", 2.5},
		{"real empty is unset", NativeReal, "  ", nil},
		{"string empty stays empty", NativeString, "", ""},
		{"string raw", NativeString, " a ", " a "},
		{"date", NativeDate, "2024-01-02", "2024-01-02"},
		{"date empty unset", NativeDate, "", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Convert(tt.native, tt.raw, p); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Convert(%v,%q) = %#v, want %#v", tt.native, tt.raw, got, tt.want)
			}
		})
	}
}

func TestConvertRecord_ShortRecordIsUnset(t *testing.T) {
	t.Parallel()

	fields := []Field{{"a", NativeString}, {"b", NativeString}}
	row := ConvertRecord(fields, []string{""}, numfmt.Default())
	if row[0] != "" || row[1] != nil {
		t.Fatalf("row = %#v, want [\"\" nil]", row)
	}
}

func memRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{int64(i)}
	}
	return rows
}

func TestMemory_ReadRowsBounded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		total int
		max   int
		want  int
	}{
		{"cap below total", 20, 11, 11},
		{"source exhausted first", 5, 11, 5},
		{"unbounded", 20, 0, 20},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewMemory([]Field{{"i", NativeInteger}}, memRows(tt.total))
			got, err := m.ReadRows(tt.max)
			if err != nil {
				t.Fatalf("ReadRows: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("ReadRows(%d) returned %d rows, want %d", tt.max, len(got), tt.want)
			}
			for i, r := range got {
				if r[0] != int64(i) {
					t.Fatalf("row %d out of order: %v", i, r)
				}
			}
		})
	}
}
