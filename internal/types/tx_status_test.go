package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxStatus_CanBecome(t *testing.T) {
	all := []TxStatus{TxStatusPending, TxStatusConfirmed, TxStatusFailed}
	allowed := map[[2]TxStatus]bool{
		{TxStatusPending, TxStatusPending}:     true,
		{TxStatusPending, TxStatusConfirmed}:   true,
		{TxStatusPending, TxStatusFailed}:      true,
		{TxStatusConfirmed, TxStatusConfirmed}: true,
		{TxStatusFailed, TxStatusFailed}:       true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]TxStatus{from, to}], from.CanBecome(to), "%s -> %s", from, to)
		}
	}
}

func TestParseTxStatus(t *testing.T) {
	s, err := ParseTxStatus("confirmed")
	require.NoError(t, err)
	assert.Equal(t, TxStatusConfirmed, s)
	assert.True(t, s.IsTerminal())

	_, err = ParseTxStatus("Confirmed")
	assert.Error(t, err)
	_, err = ParseTxStatus("success")
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, c)

	c, err = ParseCategory("access-grant")
	require.NoError(t, err)
	assert.Equal(t, CategoryAccessGrant, c)

	_, err = ParseCategory("mint")
	assert.Error(t, err)
}
