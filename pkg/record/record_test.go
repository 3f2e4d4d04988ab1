package record_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-bridge/pkg/record"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    record.Record
		wantErr bool
	}{
		{
			name: "trims around delimiter and terminator",
			line: "B100 - P200\n",
			want: record.Record{BatchID: "B100", ProductID: "P200"},
		},
		{
			name: "no surrounding spaces",
			line: "A1-P9",
			want: record.Record{BatchID: "A1", ProductID: "P9"},
		},
		{
			name: "carriage return from serial console",
			line: "A1 - P9\r",
			want: record.Record{BatchID: "A1", ProductID: "P9"},
		},
		{
			name: "extra fields are ignored",
			line: "A1 - P9 - extra",
			want: record.Record{BatchID: "A1", ProductID: "P9"},
		},
		{
			name:    "single field",
			line:    "onlyonefield",
			wantErr: true,
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: true,
		},
		{
			name:    "empty batch",
			line:    "  - P9",
			wantErr: true,
		},
		{
			name:    "empty product",
			line:    "A1 -   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := record.Parse(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, record.ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParser_Strict(t *testing.T) {
	p := record.NewParser("", true)

	rec, err := p.Parse("A1 - P9")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "P9"}, rec.Args())

	_, err = p.Parse("A1 - P9 - extra")
	assert.ErrorIs(t, err, record.ErrMalformedRecord)
}

func TestParser_CustomDelimiter(t *testing.T) {
	p := record.NewParser("|", false)

	rec, err := p.Parse("A-1 | P-9")
	require.NoError(t, err)
	assert.Equal(t, record.Record{BatchID: "A-1", ProductID: "P-9"}, rec)
}
