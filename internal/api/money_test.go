package api

import (
	"errors"
	"testing"

	appErr "bingo-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		err  error
	}{
		{in: "10", want: 1000},
		{in: "12.5", want: 1250},
		{in: "0.01", want: 1},
		{in: "0", want: 0},
		{in: "1.005", err: appErr.ErrInvalidAmount},
		{in: "-3", err: appErr.ErrInvalidAmount},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(tc.in))
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%s: expected %v, got %v", tc.in, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.in, tc.want, got)
		}
	}
}
