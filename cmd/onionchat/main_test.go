package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"onionchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "onionchat "+Version)
	assert.Contains(t, out.String(), "Git Commit: "+GitCommit)
}

func TestSendCommand_RequiresContent(t *testing.T) {
	rootCmd.SetArgs([]string{"send", testOnion})
	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to send")
}

func at(day, hour int) int64 {
	return time.Date(2026, 10, day, hour, 0, 0, 0, time.UTC).Unix()
}

func TestViewPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newViewPrinter(&out, time.UTC)
	p.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

	first := models.View{Messages: []models.Message{
		{ID: 1, Body: models.NewTextBody("morning"), Timestamp: at(15, 9), IsIncoming: true, VerifiedStatus: true},
		{ID: 2, Body: models.NewTextBody("hi"), Timestamp: at(16, 10)},
	}}
	p.print(first)

	second := models.View{Messages: append(first.Messages,
		models.Message{ID: 3, Body: models.NewTextBody("lunch?"), Timestamp: at(16, 11), IsIncoming: true, VerifiedStatus: true},
	)}
	p.print(second)

	assert.Equal(t, strings.Join([]string{
		"-- Yesterday --",
		"09:00 < morning",
		"-- Today --",
		"10:00 > hi",
		"11:00 < lunch?",
		"",
	}, "\n"), out.String())
}

func TestViewPrinter_SendStates(t *testing.T) {
	var out bytes.Buffer
	p := newViewPrinter(&out, time.UTC)
	p.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

	pending := models.Message{ID: 10, Body: models.NewTextBody("hello"), Timestamp: at(16, 11),
		Optimistic: true, LocalRef: "r1", SendState: models.SendStatePending}
	p.print(models.View{Messages: []models.Message{pending}})

	failed := pending
	failed.SendState = models.SendStateFailed
	failed.SendError = "daemon unreachable"
	p.print(models.View{Messages: []models.Message{failed}, LastError: "Chat daemon is not reachable"})
	p.print(models.View{Messages: []models.Message{failed}, LastError: "Chat daemon is not reachable"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "11:00 > hello (sending)", lines[1])
	assert.Equal(t, "11:00 > hello (not delivered: daemon unreachable, ref r1)", lines[2])
	assert.Equal(t, "! Chat daemon is not reachable", lines[3])
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  models.Message
		want string
	}{
		{
			name: "unverified incoming",
			msg:  models.Message{Body: models.NewTextBody("x"), Timestamp: at(16, 8), IsIncoming: true},
			want: "08:00 < [error] Message could not be verified",
		},
		{
			name: "undecodable body",
			msg:  models.Message{Body: "not an envelope", Timestamp: at(16, 8), VerifiedStatus: true},
			want: "08:00 > [error] Message could not be displayed",
		},
		{
			name: "error body",
			msg:  models.Message{Body: models.NewErrorBody("decryption failed"), Timestamp: at(16, 8)},
			want: "08:00 > [error] decryption failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMessage(tt.msg, time.UTC))
		})
	}
}

func TestWaitForSend(t *testing.T) {
	placeholder := models.Message{LocalRef: "r1", Optimistic: true, SendState: models.SendStatePending}

	t.Run("settles once a later reload drops the placeholder", func(t *testing.T) {
		views := make(chan models.View, 3)
		views <- models.View{Generation: 3}
		views <- models.View{Generation: 3, Messages: []models.Message{placeholder}}
		views <- models.View{Generation: 4, Messages: []models.Message{{ID: 9}}}

		assert.NoError(t, waitForSend(context.Background(), views, "r1", 3))
	})

	t.Run("reports rejection", func(t *testing.T) {
		failed := placeholder
		failed.SendState = models.SendStateFailed
		failed.SendError = "rejected"

		views := make(chan models.View, 1)
		views <- models.View{Generation: 4, Messages: []models.Message{failed}}

		err := waitForSend(context.Background(), views, "r1", 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rejected")
	})

	t.Run("session stopped", func(t *testing.T) {
		views := make(chan models.View)
		close(views)
		assert.Error(t, waitForSend(context.Background(), views, "r1", 0))
	})

	t.Run("context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, waitForSend(ctx, make(chan models.View), "r1", 0), context.Canceled)
	})
}
