// Package catalog загружает каталог фотографий из YAML-файла.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/validation"
)

const defaultCurrency = "usd"

// ErrPhotoNotFound возвращается, если товара нет в каталоге.
var ErrPhotoNotFound = errors.New("photo not found")

type file struct {
	Photos []model.Photo `yaml:"photos"`
}

// Catalog хранит товары в порядке их объявления в файле.
type Catalog struct {
	photos []model.Photo
	byID   map[string]int
}

// Load читает каталог из файла.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse читает и проверяет каталог.
func Parse(r io.Reader) (*Catalog, error) {
	var doc file
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(doc.Photos))}
	for _, p := range doc.Photos {
		p.ID = strings.TrimSpace(p.ID)
		if !validation.IsValidProductID(p.ID) {
			return nil, fmt.Errorf("invalid photo id %q", p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate photo id %q", p.ID)
		}
		if p.PriceCents <= 0 {
			return nil, fmt.Errorf("photo %q: price must be positive", p.ID)
		}
		if p.AssetRef == "" {
			return nil, fmt.Errorf("photo %q: asset_ref is required", p.ID)
		}
		if p.Title == "" {
			p.Title = p.ID
		}
		if p.Currency == "" {
			p.Currency = defaultCurrency
		}
		p.Currency = strings.ToLower(p.Currency)

		c.byID[p.ID] = len(c.photos)
		c.photos = append(c.photos, p)
	}

	return c, nil
}

// List возвращает копию списка товаров.
func (c *Catalog) List() []model.Photo {
	res := make([]model.Photo, len(c.photos))
	copy(res, c.photos)
	return res
}

// Get возвращает товар по идентификатору.
func (c *Catalog) Get(id string) (model.Photo, error) {
	i, ok := c.byID[id]
	if !ok {
		return model.Photo{}, ErrPhotoNotFound
	}
	return c.photos[i], nil
}
