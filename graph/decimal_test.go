package graph

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestUnmarshalDecimal_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"20000", "20000"},
		{"20,000", "20000"},
		{"€ 1,250.00", "1250"},
		{"EUR -20,000", "-20000"},
		{"  1,234.50  ", "1234.5"},
	}
	for _, tc := range cases {
		d, err := UnmarshalDecimal(tc.in)
		if err != nil {
			t.Fatalf("UnmarshalDecimal(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("UnmarshalDecimal(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestUnmarshalDecimal_Numbers(t *testing.T) {
	cases := []struct {
		in       interface{}
		expected string
	}{
		{json.Number("12.75"), "12.75"},
		{float64(0.5), "0.5"},
		{int64(30), "30"},
		{25, "25"},
	}
	for _, tc := range cases {
		d, err := UnmarshalDecimal(tc.in)
		if err != nil {
			t.Fatalf("UnmarshalDecimal(%v) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("UnmarshalDecimal(%v) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestUnmarshalDecimal_RejectsGarbage(t *testing.T) {
	for _, in := range []interface{}{"", "abc", true, nil} {
		if _, err := UnmarshalDecimal(in); err == nil {
			t.Fatalf("UnmarshalDecimal(%v) expected error", in)
		}
	}
}

func TestMarshalDecimal(t *testing.T) {
	var buf bytes.Buffer
	MarshalDecimal(decimal.RequireFromString("130.50")).MarshalGQL(&buf)
	if buf.String() != "130.5" {
		t.Fatalf("MarshalDecimal wrote %s", buf.String())
	}
}
