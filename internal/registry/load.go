package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// catalogFile is the YAML layout of catalog.yaml and of condition field files.
type catalogFile struct {
	Client     []FieldDefinition            `yaml:"client"`
	Conditions map[string][]FieldDefinition `yaml:"conditions"`
}

// Default returns a fresh registry holding the built-in catalog.
// Each call returns an independent registry.
func Default() *Registry {
	f, err := parseCatalog(bytes.NewReader(builtinCatalog))
	if err != nil {
		panic(fmt.Sprintf("registry: built-in catalog: %v", err))
	}
	r, err := New(f.Client, f.Conditions)
	if err != nil {
		panic(fmt.Sprintf("registry: built-in catalog: %v", err))
	}
	return r
}

// LoadConditionFields reads per-condition fields from YAML:
//
//	conditions:
//	  kidney_disease:
//	    - {key: kidney_disease.egfr, type: numeric, label: eGFR}
func LoadConditionFields(r io.Reader) (map[string][]FieldDefinition, error) {
	f, err := parseCatalog(r)
	if err != nil {
		return nil, err
	}
	if len(f.Client) > 0 {
		return nil, fmt.Errorf("registry: condition field files cannot define client fields")
	}
	return f.Conditions, nil
}

// RegisterFile registers every condition defined in a YAML file.
func (r *Registry) RegisterFile(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("registry: open %s: %w", path, err)
	}
	defer fh.Close()

	conditions, err := LoadConditionFields(fh)
	if err != nil {
		return fmt.Errorf("registry: %s: %w", path, err)
	}
	for code, fields := range conditions {
		if err := r.RegisterCondition(code, fields); err != nil {
			return err
		}
	}
	return nil
}

func parseCatalog(r io.Reader) (*catalogFile, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("registry: decode catalog: %w", err)
	}
	return &f, nil
}
