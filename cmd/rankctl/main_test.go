package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
)

func TestRun_RejectsUnknownCommandBeforeConnecting(t *testing.T) {
	// unreachable database: the command name is checked first
	t.Setenv("DATABASE_URL", "postgres://nobody@127.0.0.1:1/none")

	var out bytes.Buffer
	err := run(context.Background(), []string{"rebuild"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "rebuild"`)

	err = run(context.Background(), nil, &out)
	assert.EqualError(t, err, "missing command")
	assert.Empty(t, out.String())
}

func TestCommands_AllSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"recalculate", "backfill", "settings", "migrate"} {
		assert.Contains(t, commands, name)
		assert.NotNil(t, commands[name])
	}
	assert.Len(t, commands, 4)
}

func TestPrintRunReport(t *testing.T) {
	snapshot := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	reference := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	report := &ranking.RunReport{RunID: "run-1"}
	report.Add(ranking.NewUnitReport(ranking.DisciplineEnduro, ranking.KindRider, snapshot, reference, 120, nil))
	report.Add(ranking.NewUnitReport(ranking.DisciplineDH, ranking.KindClub, snapshot, reference, 40, errors.New("db down")))

	var out bytes.Buffer
	printRunReport(&out, report)

	text := out.String()
	assert.Contains(t, text, "run run-1")
	assert.Contains(t, text, "ENDURO")
	assert.Contains(t, text, "2024-06-30")
	assert.Contains(t, text, "120")
	assert.Contains(t, text, "db down")
}
