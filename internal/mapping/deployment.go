package mapping

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/biobanking/blaze-sync/internal/model"
)

type collectionDoc struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Acronym string `mapstructure:"acronym"`
}

type deploymentDoc struct {
	Biobank     model.Biobank   `mapstructure:"biobank"`
	Collections []collectionDoc `mapstructure:"collections"`
}

// LoadDeployment reads the biobank document: the singleton biobank this
// deployment uploads for plus the collections it owns.
func LoadDeployment(path string) (model.Biobank, []model.Collection, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return model.Biobank{}, nil, fmt.Errorf("read biobank document %s: %w", path, err)
	}
	var doc deploymentDoc
	if err := v.Unmarshal(&doc); err != nil {
		return model.Biobank{}, nil, fmt.Errorf("unmarshal biobank document %s: %w", path, err)
	}
	if doc.Biobank.ID == "" {
		return model.Biobank{}, nil, fmt.Errorf("biobank document %s: biobank.id is required", path)
	}
	collections := make([]model.Collection, 0, len(doc.Collections))
	for _, c := range doc.Collections {
		if c.ID == "" {
			return model.Biobank{}, nil, fmt.Errorf("biobank document %s: collection without id", path)
		}
		collections = append(collections, model.Collection{ID: c.ID, Name: c.Name, Acronym: c.Acronym})
	}
	return doc.Biobank, collections, nil
}
