package mapping

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultCollectionKey is the reserved lookup key tried when a sample record
// carries no collection attribute.
const DefaultCollectionKey = "default"

// Lookups holds the flat code-to-canonical-value tables supplied alongside
// the parsing map.
type Lookups struct {
	MaterialType       map[string]string `mapstructure:"material_type"`
	StorageTemperature map[string]string `mapstructure:"storage_temperature"`
	Collections        map[string]string `mapstructure:"collections"`
}

// LoadLookups reads the lookup-table document. Absent sections load as empty
// tables, under which every code degrades to absent.
func LoadLookups(path string) (Lookups, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Lookups{}, fmt.Errorf("read lookup tables %s: %w", path, err)
	}
	var l Lookups
	if err := v.Unmarshal(&l); err != nil {
		return Lookups{}, fmt.Errorf("unmarshal lookup tables %s: %w", path, err)
	}
	if l.MaterialType == nil {
		l.MaterialType = map[string]string{}
	}
	if l.StorageTemperature == nil {
		l.StorageTemperature = map[string]string{}
	}
	if l.Collections == nil {
		l.Collections = map[string]string{}
	}
	return l, nil
}

// CollectionFor resolves a record's collection attribute to a collection
// identifier. An empty attribute falls back to the reserved "default" key;
// when nothing resolves the second return is false, which is not an error.
func (l Lookups) CollectionFor(attr string) (string, bool) {
	if attr == "" {
		id, ok := l.Collections[DefaultCollectionKey]
		return id, ok
	}
	id, ok := l.Collections[attr]
	return id, ok
}

// Material resolves a material-type code, degrading to absent on a miss.
func (l Lookups) Material(code string) *string {
	if code == "" {
		return nil
	}
	v, ok := l.MaterialType[code]
	if !ok {
		return nil
	}
	return &v
}
