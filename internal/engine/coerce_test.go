package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

func TestCoerceStored(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    types.FieldKind
		want    types.FieldValue
		wantErr error
	}{
		{
			name: "number: integer string",
			raw:  "25",
			kind: types.KindNumber,
			want: types.NumberValue(25),
		},
		{
			name: "number: decimal string",
			raw:  "3.14159",
			kind: types.KindNumber,
			want: types.NumberValue(3.14159),
		},
		{
			name: "number: whitespace trimmed",
			raw:  "  42  ",
			kind: types.KindNumber,
			want: types.NumberValue(42),
		},
		{
			name: "number: negative",
			raw:  "-100",
			kind: types.KindNumber,
			want: types.NumberValue(-100),
		},
		{
			name: "number: scientific notation",
			raw:  "1e10",
			kind: types.KindNumber,
			want: types.NumberValue(1e10),
		},
		{
			name:    "number: non-numeric string fails",
			raw:     "abc",
			kind:    types.KindNumber,
			wantErr: types.ErrTypeMismatch,
		},
		{
			name:    "number: empty string fails",
			raw:     "",
			kind:    types.KindNumber,
			wantErr: types.ErrTypeMismatch,
		},
		{
			name:    "number: whitespace-only fails",
			raw:     "   ",
			kind:    types.KindNumber,
			wantErr: types.ErrTypeMismatch,
		},
		{
			name: "bool: true",
			raw:  "true",
			kind: types.KindBool,
			want: types.BoolValue(true),
		},
		{
			name: "bool: numeric form",
			raw:  "0",
			kind: types.KindBool,
			want: types.BoolValue(false),
		},
		{
			name:    "bool: garbage fails",
			raw:     "yes",
			kind:    types.KindBool,
			wantErr: types.ErrTypeMismatch,
		},
		{
			name: "time: RFC 3339",
			raw:  "2026-03-15T10:30:00Z",
			kind: types.KindTime,
			want: types.TimeValue(time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)),
		},
		{
			name:    "time: date-only fails",
			raw:     "2026-03-15",
			kind:    types.KindTime,
			wantErr: types.ErrTypeMismatch,
		},
		{
			name: "string: verbatim including whitespace",
			raw:  "  hello  ",
			kind: types.KindString,
			want: types.StringValue("  hello  "),
		},
		{
			name: "null field keeps string form",
			raw:  "anything",
			kind: types.KindNull,
			want: types.StringValue("anything"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceStored(tt.raw, tt.kind)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("coerceStored() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("coerceStored() unexpected error = %v", err)
				return
			}
			if got.Kind != tt.want.Kind {
				t.Errorf("coerceStored() Kind = %v, want %v", got.Kind, tt.want.Kind)
			}
			switch tt.want.Kind {
			case types.KindNumber:
				if got.Num != tt.want.Num {
					t.Errorf("coerceStored() Num = %v, want %v", got.Num, tt.want.Num)
				}
			case types.KindBool:
				if got.Bool != tt.want.Bool {
					t.Errorf("coerceStored() Bool = %v, want %v", got.Bool, tt.want.Bool)
				}
			case types.KindTime:
				if !got.Time.Equal(tt.want.Time) {
					t.Errorf("coerceStored() Time = %v, want %v", got.Time, tt.want.Time)
				}
			default:
				if got.Str != tt.want.Str {
					t.Errorf("coerceStored() Str = %q, want %q", got.Str, tt.want.Str)
				}
			}
		})
	}
}

func TestOrdinal(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		value  types.FieldValue
		want   float64
		wantOK bool
	}{
		{
			name:   "number by value",
			value:  types.NumberValue(42.5),
			want:   42.5,
			wantOK: true,
		},
		{
			name:   "time by epoch nanoseconds",
			value:  types.TimeValue(ts),
			want:   float64(ts.UnixNano()),
			wantOK: true,
		},
		{
			name:   "numeric string promoted",
			value:  types.StringValue("17"),
			want:   17,
			wantOK: true,
		},
		{
			name:   "date string promoted",
			value:  types.StringValue("2026-01-02T03:04:05Z"),
			want:   float64(ts.UnixNano()),
			wantOK: true,
		},
		{
			name:   "non-ordinal string rejected",
			value:  types.StringValue("urgent"),
			wantOK: false,
		},
		{
			name:   "empty string rejected",
			value:  types.StringValue(""),
			wantOK: false,
		},
		{
			name:   "null rejected",
			value:  types.NullValue(),
			wantOK: false,
		},
		{
			name:   "bool rejected",
			value:  types.BoolValue(true),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ordinal(tt.value)
			if ok != tt.wantOK {
				t.Errorf("ordinal() ok = %v, want %v", ok, tt.wantOK)
				return
			}
			if ok && got != tt.want {
				t.Errorf("ordinal() = %v, want %v", got, tt.want)
			}
		})
	}
}
