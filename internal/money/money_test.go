package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	m, err := FromString("33.33")
	require.NoError(t, err)
	assert.Equal(t, "33.33", m.String())

	_, err = FromString("not-a-number")
	assert.Error(t, err)
}

func TestFromString_RoundsToTwoPlaces(t *testing.T) {
	m, err := FromString("10.005")
	require.NoError(t, err)
	// half-up
	assert.Equal(t, "10.01", m.String())
}

func TestArithmetic(t *testing.T) {
	a := MustFromString("10.10")
	b := MustFromString("0.90")

	assert.Equal(t, "11.00", a.Add(b).String())
	assert.Equal(t, "9.20", a.Sub(b).String())
	assert.Equal(t, "30.30", a.MulInt(3).String())
}

func TestTaxAt_HalfUpRounding(t *testing.T) {
	// 33.33 * 21% = 6.9993 -> 7.00
	subtotal := MustFromString("33.33")
	tax := subtotal.TaxAt(MustFromString("21"))
	assert.Equal(t, "7.00", tax.String())

	total := subtotal.Add(tax)
	assert.Equal(t, "40.33", total.String())
}

func TestTaxAt_ExactAmount(t *testing.T) {
	tax := MustFromString("100.00").TaxAt(MustFromString("21"))
	assert.Equal(t, "21.00", tax.String())
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(4033), MustFromString("40.33").Cents())
	assert.Equal(t, "40.33", FromCents(4033).String())
}

func TestComparisons(t *testing.T) {
	a := MustFromString("5.00")
	b := MustFromString("5.50")

	assert.Equal(t, -1, a.Cmp(b))
	assert.Equal(t, 1, b.Cmp(a))
	assert.True(t, a.Equal(MustFromString("5")))
	assert.True(t, Zero().IsZero())
	assert.True(t, MustFromString("-1.00").IsNegative())
	assert.True(t, b.IsPositive())
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Total Money `json:"total"`
	}

	out, err := json.Marshal(payload{Total: MustFromString("40.33")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":"40.33"}`, string(out))

	var in payload
	require.NoError(t, json.Unmarshal([]byte(`{"total":40.33}`), &in))
	assert.Equal(t, "40.33", in.Total.String())

	require.NoError(t, json.Unmarshal([]byte(`{"total":"12.50"}`), &in))
	assert.Equal(t, "12.50", in.Total.String())
}

func TestScanValue(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("19.99"))
	assert.Equal(t, "19.99", m.String())

	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, "19.99", v)
}
