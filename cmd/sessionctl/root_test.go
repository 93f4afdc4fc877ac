package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"migrate", "enqueue", "status", "reindex"})

	var migrate []string
	for _, c := range migrateCmd.Commands() {
		migrate = append(migrate, c.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "version"}, migrate)
}

func TestArgumentValidation(t *testing.T) {
	assert.Error(t, statusCmd.Args(statusCmd, nil))
	assert.Error(t, statusCmd.Args(statusCmd, []string{"a", "b"}))
	assert.NoError(t, statusCmd.Args(statusCmd, []string{"a"}))

	assert.Error(t, enqueueCmd.Args(enqueueCmd, nil))
	assert.NoError(t, reindexCmd.Args(reindexCmd, []string{"a", "b"}))
	assert.Error(t, migrateUpCmd.Args(migrateUpCmd, []string{"extra"}))
}

func TestMigrateDownDefaultsToOneStep(t *testing.T) {
	flag := migrateDownCmd.Flags().Lookup("steps")
	require.NotNil(t, flag)
	assert.Equal(t, "1", flag.DefValue)
}

func TestHelpDoesNotTouchStores(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--help"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Administer procedure sessions")
}
