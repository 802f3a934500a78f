package ingest

import (
	"reflect"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Name", "name"},
		{"  First Name  ", "first_name"},
		{"Včelařství Kód", "vcelarstvi_kod"},
		{"price ($)", "price"},
		{"a--b..c", "a_b_c"},
		{"order/date", "order_date"},
		{"123", "123"},
		{"", "col"},
		{"???", "col"},
	}
	for _, tc := range tests {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%q)=%q; want %q", tc.in, got, tc.want)
		}
	}
}

/*
TestHeaderKeys verifies collision handling: repeated normalized names get
ordinal suffixes in column order.
*/
func TestHeaderKeys(t *testing.T) {
	t.Parallel()

	got := HeaderKeys([]string{"Name", "name ", "NAME", "other"})
	want := []string{"name", "name_2", "name_3", "other"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("HeaderKeys=%v; want %v", got, want)
	}
}
