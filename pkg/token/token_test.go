package token_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	tok, err := token.Static("abc").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = token.Static("abc").Refresh(ctx)
	assert.ErrorIs(t, err, token.ErrNoFreshToken)

	_, err = token.Static("").Token(ctx)
	assert.ErrorIs(t, err, token.ErrNoToken)
}

func TestFileSourceReadsAndTrims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  first\n"), 0o600))

	src, err := token.NewFileSource(path, token.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer src.Close()

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := token.NewFileSource(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestFileSourceRefreshWaitsForChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	src, err := token.NewFileSource(path, token.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Token(context.Background())
	require.NoError(t, err)

	result := make(chan string, 1)
	go func() {
		tok, err := src.Refresh(context.Background())
		if err == nil {
			result <- tok
		}
	}()

	select {
	case tok := <-result:
		t.Fatalf("refresh returned the rejected token %q", tok)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("second\n"), 0o600))
	select {
	case tok := <-result:
		assert.Equal(t, "second", tok)
	case <-time.After(3 * time.Second):
		t.Fatal("refresh did not pick up the new token")
	}
}

func TestFileSourceRefreshHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("only"), 0o600))

	src, err := token.NewFileSource(path)
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Token(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileSourceCloseUnblocksRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("only"), 0o600))

	src, err := token.NewFileSource(path)
	require.NoError(t, err)
	_, err = src.Token(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := src.Refresh(context.Background())
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, token.ErrNoFreshToken)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh still blocked after close")
	}
}
