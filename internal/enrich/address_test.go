package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/progeodata/leadflow/internal/model"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123 Main St., Miami,  FL 33101", "123 Main Street, Miami, FL 33101"},
		{"  55  Ocean Ave ", "55 Ocean Avenue"},
		{"100 Biscayne Blvd, Ste 210", "100 Biscayne Boulevard, Suite 210"},
		{"Carr 2 Km 5.3", "Carretera 2 Km 5.3"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAddress(tt.in), tt.in)
	}
}

func TestAddressComplete(t *testing.T) {
	assert.True(t, addressComplete(&model.RawBusinessRecord{Street: "1 Main St", City: "Miami", State: "FL"}))
	assert.True(t, addressComplete(&model.RawBusinessRecord{Address: "1 Main St, Miami, FL 33101"}))
	assert.False(t, addressComplete(&model.RawBusinessRecord{Address: "Km 5.3 Int, Carr 2"}))
	assert.False(t, addressComplete(&model.RawBusinessRecord{City: "Miami", State: "FL"}))
	assert.False(t, addressComplete(&model.RawBusinessRecord{}))
}
