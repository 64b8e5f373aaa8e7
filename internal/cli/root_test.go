package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "packsale", cmd.Use)
	assert.Contains(t, cmd.Long, "mint")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"init"}, {"validate"}, {"serve"}, {"quote"}, {"purchase"}, {"mint"},
		{"chest", "purchase"}, {"chest", "open"}, {"sale"},
		{"escrow", "show"}, {"escrow", "release"}, {"escrow", "cancel"},
		{"migrate"}, {"deliver"},
		{"admin", "pause"}, {"admin", "targets"}, {"admin", "seller"}, {"admin", "signer-limit"},
		{"admin", "minter"}, {"admin", "custodian"}, {"admin", "cap-updater"},
		{"show", "commitment"}, {"show", "commitments"}, {"show", "cap"},
		{"show", "balance"}, {"show", "funds"}, {"show", "units"},
		{"events"}, {"audit"}, {"test"}, {"keygen"}, {"sign"}, {"worker"}, {"fulfill"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "packsale.yaml", configFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestPurchaseCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	purchaseCmd, _, err := cmd.Find([]string{"purchase"})
	require.NoError(t, err)

	for _, name := range []string{"buyer", "recipient", "referrer", "attached", "key", "value", "nonce", "escrow-for"} {
		assert.NotNil(t, purchaseCmd.Flags().Lookup(name), name)
	}
	quantity := purchaseCmd.Flags().Lookup("quantity")
	require.NotNil(t, quantity)
	assert.Equal(t, "n", quantity.Shorthand)
	assert.Equal(t, "1", quantity.DefValue)
}

func TestTemporalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"worker", "fulfill"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, "localhost:7233", sub.Flags().Lookup("temporal").DefValue)
		assert.Equal(t, "packsale-fulfillment", sub.Flags().Lookup("task-queue").DefValue)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "validate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
