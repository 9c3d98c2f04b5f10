package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-engine/internal/order"
	"options-engine/pkg/i18n"
)

func TestClassifyCommand(t *testing.T) {
	t.Cleanup(func() { i18n.SetLanguage(i18n.LangEN) })

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"classify", "RMS:", "Freeze", "qty", "exceeded", "for", "NIFTY"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), order.CategoryPositionLimit)
	assert.Contains(t, out.String(), "freeze quantity")
}

func TestClassifyCommandRequiresRemark(t *testing.T) {
	root := rootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"classify"})
	assert.Error(t, root.Execute())
}
