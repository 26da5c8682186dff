package model

// Collection is a biobank sample collection. Membership is not stored on the
// collection; the sync engine accumulates newly uploaded samples per
// collection and issues one membership update per collection at the end of a
// sample pass.
type Collection struct {
	ID      string
	Name    string
	Acronym string
}

// Biobank is the singleton organization a deployment uploads for. It is read
// from configuration, never from the record stream.
type Biobank struct {
	ID          string `mapstructure:"id" json:"id"`
	Name        string `mapstructure:"name" json:"name"`
	Alias       string `mapstructure:"alias" json:"alias"`
	Description string `mapstructure:"description" json:"description"`
}
