package model

// StorageTemperature is the canonical storage temperature of a sample,
// following the BBMRI.de StorageTemperature code system.
type StorageTemperature string

const (
	Temperature2to10       StorageTemperature = "temperature2to10"
	TemperatureMinus18to35 StorageTemperature = "temperature-18to-35"
	TemperatureMinus60to85 StorageTemperature = "temperature-60to-85"
	TemperatureGN          StorageTemperature = "temperatureGN"
	TemperatureLN          StorageTemperature = "temperatureLN"
	TemperatureRoom        StorageTemperature = "temperatureRoom"
	TemperatureOther       StorageTemperature = "temperatureOther"
)

var storageTemperatures = map[StorageTemperature]bool{
	Temperature2to10:       true,
	TemperatureMinus18to35: true,
	TemperatureMinus60to85: true,
	TemperatureGN:          true,
	TemperatureLN:          true,
	TemperatureRoom:        true,
	TemperatureOther:       true,
}

// ParseStorageTemperature returns the StorageTemperature for a canonical
// value, or false when the value is outside the enumerated set.
func ParseStorageTemperature(v string) (StorageTemperature, bool) {
	t := StorageTemperature(v)
	return t, storageTemperatures[t]
}

// ResolveStorageTemperature maps a source-specific code to a canonical
// StorageTemperature through a caller-supplied lookup table. An empty code,
// a code absent from the table, or a table value outside the enumerated set
// all resolve to nil rather than an error.
func ResolveStorageTemperature(code string, table map[string]string) *StorageTemperature {
	if code == "" {
		return nil
	}
	mapped, ok := table[code]
	if !ok {
		return nil
	}
	t, ok := ParseStorageTemperature(mapped)
	if !ok {
		return nil
	}
	return &t
}
