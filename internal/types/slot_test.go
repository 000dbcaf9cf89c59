package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlot(t *testing.T) {
	tests := []struct {
		name    string
		want    Slot
		wantErr bool
	}{
		{"html", SlotMarkup, false},
		{"markup", SlotMarkup, false},
		{" CSS ", SlotStyle, false},
		{"style", SlotStyle, false},
		{"js", SlotScript, false},
		{"javascript", SlotScript, false},
		{"python", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSlot(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlotFileNames(t *testing.T) {
	for _, slot := range Slots {
		got, ok := SlotForFile(slot.FileName())
		require.True(t, ok, slot.String())
		assert.Equal(t, slot, got)
	}

	_, ok := SlotForFile("README.md")
	assert.False(t, ok)
}

func TestSlotJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Slot{"slot": SlotStyle})
	require.NoError(t, err)
	assert.JSONEq(t, `{"slot":"css"}`, string(data))

	var decoded struct{ Slot Slot }
	require.NoError(t, json.Unmarshal([]byte(`{"Slot":"script"}`), &decoded))
	assert.Equal(t, SlotScript, decoded.Slot)

	_, err = json.Marshal(Slot(7))
	assert.Error(t, err)
}
