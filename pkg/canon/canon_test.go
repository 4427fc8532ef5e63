package canon_test

import (
	"testing"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/canon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Zeta  string `json:"zeta"`
	Alpha int    `json:"alpha"`
}

func TestJSON_KeyOrderIsStable(t *testing.T) {
	a := sample{Zeta: "z", Alpha: 1}

	out1, err := canon.JSON(a)
	require.NoError(t, err)
	out2, err := canon.JSON(a)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.Equal(t, `{"alpha":1,"zeta":"z"}`, string(out1))
}

func TestHash_IsDeterministicAcrossFieldOrder(t *testing.T) {
	type variantA struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	type variantB struct {
		B int `json:"b"`
		A int `json:"a"`
	}

	h1, err := canon.Hash(variantA{A: 1, B: 2})
	require.NoError(t, err)
	h2, err := canon.Hash(variantB{B: 2, A: 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestHashBytes(t *testing.T) {
	h := canon.HashBytes([]byte("hello"))
	assert.Len(t, h, 64)
}
