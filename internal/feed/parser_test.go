package feed

import (
	"strings"
	"testing"
)

func TestParseQuote(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantPrice int64
		wantSeq   uint64
		wantErr   bool
	}{
		{
			name:      "par quote",
			data:      `{"price": "1.000000", "sequence": 7, "timestamp_us": 1700000000000000}`,
			wantPrice: 1_000_000,
			wantSeq:   7,
		},
		{
			name:      "fractional price",
			data:      `{"price": "1.023450", "sequence": 1}`,
			wantPrice: 1_023_450,
			wantSeq:   1,
		},
		{
			name:      "excess precision truncated",
			data:      `{"price": "0.9999999", "sequence": 2}`,
			wantPrice: 999_999,
			wantSeq:   2,
		},
		{
			name:      "bare number accepted",
			data:      `{"price": 2.5, "sequence": 3}`,
			wantPrice: 2_500_000,
			wantSeq:   3,
		},
		{
			name:      "zero price passes through",
			data:      `{"price": "0", "sequence": 4}`,
			wantPrice: 0,
			wantSeq:   4,
		},
		{
			name:      "negative price passes through",
			data:      `{"price": "-1.5", "sequence": 5}`,
			wantPrice: -1_500_000,
			wantSeq:   5,
		},
		{
			name:    "missing sequence",
			data:    `{"price": "1.0"}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			data:    `{"price": `,
			wantErr: true,
		},
		{
			name:    "non-numeric price",
			data:    `{"price": "abc", "sequence": 6}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuote([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseQuote(%s) = %+v, want error", tt.data, q)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQuote(%s): %v", tt.data, err)
			}
			if q.Price != tt.wantPrice || q.Sequence != tt.wantSeq {
				t.Errorf("ParseQuote(%s) = {%d %d}, want {%d %d}",
					tt.data, q.Price, q.Sequence, tt.wantPrice, tt.wantSeq)
			}
		})
	}
}

func TestParseQuoteOutOfRange(t *testing.T) {
	data := `{"price": "99999999999999999999", "sequence": 1}`
	if _, err := ParseQuote([]byte(data)); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("err = %v, want out of range", err)
	}
}
