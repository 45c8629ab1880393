package bmap_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/bamsammich/blit/internal/bmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChecksumType(t *testing.T) {
	for _, name := range []string{"sha1", "sha256", "blake3"} {
		ctype, err := bmap.ParseChecksumType(name)
		require.NoError(t, err)
		assert.Equal(t, name, string(ctype))
	}

	_, err := bmap.ParseChecksumType("md5")
	assert.Error(t, err)
}

func TestChecksumType_Size(t *testing.T) {
	assert.Equal(t, 20, bmap.SHA1.Size())
	assert.Equal(t, 32, bmap.SHA256.Size())
	assert.Equal(t, 32, bmap.BLAKE3.Size())
}

func TestChecksumType_DigestMatchesCrypto(t *testing.T) {
	data := []byte("some image blocks")

	h := bmap.SHA256.New()
	h.Write(data)

	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), hex.EncodeToString(h.Sum(nil)))
}
