package services

import (
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	media := NewMediaStore(fs, "https://agent.example.com")

	name, err := media.Save(".mp3", []byte("audio"))
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f-]{36}\.mp3$`, name)
	assert.Equal(t, "https://agent.example.com/media/"+name, media.URL(name))

	f, err := media.Open(name)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "audio", string(data))

	require.NoError(t, media.Remove(name))
	_, err = media.Open(name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMediaStoreRejectsPaths(t *testing.T) {
	media := NewMediaStore(afero.NewMemMapFs(), "")

	for _, name := range []string{
		"", "../etc/passwd", "a/b.mp3", ".hidden",
		"notes.mp3",
		"0b7f6a1e-3c1d-4c55-9a7e-2f1d1c0f9e21.txt",
		"0b7f6a1e-3c1d-4c55-9a7e-2f1d1c0f9e21.mp3.bak",
		"../0b7f6a1e-3c1d-4c55-9a7e-2f1d1c0f9e21.mp3",
	} {
		_, err := media.Open(name)
		assert.ErrorIs(t, err, ErrInvalidArgument, name)
	}
}

func TestMediaStorePrune(t *testing.T) {
	fs := afero.NewMemMapFs()
	media := NewMediaStore(fs, "")

	oldName, err := media.Save("mp3", []byte("old"))
	require.NoError(t, err)
	newName, err := media.Save("mp3", []byte("new"))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, fs.Chtimes("/"+oldName, old, old))

	removed, err := media.Prune(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = media.Open(oldName)
	assert.ErrorIs(t, err, ErrNotFound)
	f, err := media.Open(newName)
	require.NoError(t, err)
	_ = f.Close()
}

func TestMediaStoreLeavesForeignFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	media := NewMediaStore(fs, "")

	require.NoError(t, afero.WriteFile(fs, "/someone-elses-session.txt", []byte("secret"), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/report.mp3", []byte("theirs"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, fs.Chtimes("/someone-elses-session.txt", old, old))
	require.NoError(t, fs.Chtimes("/report.mp3", old, old))

	_, err := media.Open("someone-elses-session.txt")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = media.Open("report.mp3")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	removed, err := media.Prune(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	for _, name := range []string{"/someone-elses-session.txt", "/report.mp3"} {
		ok, err := afero.Exists(fs, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
}

func TestMediaStoreSaveRejectsUnknownType(t *testing.T) {
	media := NewMediaStore(afero.NewMemMapFs(), "")
	_, err := media.Save("sh", []byte("#!/bin/sh"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
