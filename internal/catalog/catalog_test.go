package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCatalog = `
photos:
  - id: p1
    title: Sunset
    file_name: sunset.jpg
    asset_ref: photos/sunset.jpg
    price_cents: 1500
  - id: p2
    title: Harbor
    file_name: harbor.jpg
    asset_ref: https://cdn.example/harbor.jpg
    price_cents: 900
    currency: EUR
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(validCatalog))
	require.NoError(t, err)

	photos := c.List()
	require.Len(t, photos, 2)
	assert.Equal(t, "p1", photos[0].ID)
	assert.Equal(t, "usd", photos[0].Currency)
	assert.Equal(t, "eur", photos[1].Currency)

	p, err := c.Get("p2")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/harbor.jpg", p.AssetRef)

	_, err = c.Get("p3")
	assert.ErrorIs(t, err, ErrPhotoNotFound)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "duplicate id",
			doc:  "photos:\n  - {id: p1, asset_ref: a, price_cents: 1}\n  - {id: p1, asset_ref: b, price_cents: 1}\n",
		},
		{
			name: "zero price",
			doc:  "photos:\n  - {id: p1, asset_ref: a, price_cents: 0}\n",
		},
		{
			name: "missing asset",
			doc:  "photos:\n  - {id: p1, price_cents: 10}\n",
		},
		{
			name: "bad id",
			doc:  "photos:\n  - {id: 'a/b', asset_ref: a, price_cents: 10}\n",
		},
		{
			name: "not yaml",
			doc:  "photos: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, c.List())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validCatalog), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.List(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
