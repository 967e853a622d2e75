// Package vocabulary resolves controlled-vocabulary term ids.
package vocabulary

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"icstore/internal/constellation/ports"
	"icstore/pkg/platform/sentinel"
)

// Static serves terms from an in-process table.
type Static struct {
	terms map[string]ports.Term
}

// NewStatic builds a table from terms. Later duplicates win.
func NewStatic(terms ...ports.Term) *Static {
	s := &Static{terms: make(map[string]ports.Term, len(terms))}
	for _, t := range terms {
		s.terms[t.ID] = t
	}
	return s
}

type termFile struct {
	Terms []struct {
		ID    string `yaml:"id"`
		Value string `yaml:"value"`
		URI   string `yaml:"uri"`
	} `yaml:"terms"`
}

// LoadStatic reads a YAML document of the form
//
//	terms:
//	  - id: "400100"
//	    value: Authors
//	    uri: http://vocab.example/400100
func LoadStatic(r io.Reader) (*Static, error) {
	var f termFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}
	terms := make([]ports.Term, 0, len(f.Terms))
	for i, t := range f.Terms {
		if t.ID == "" {
			return nil, fmt.Errorf("vocabulary term %d has no id", i)
		}
		terms = append(terms, ports.Term{ID: t.ID, Value: t.Value, URI: t.URI})
	}
	return NewStatic(terms...), nil
}

func (s *Static) ResolveTerm(_ context.Context, id string) (*ports.Term, error) {
	t, ok := s.terms[id]
	if !ok {
		return nil, fmt.Errorf("term %q: %w", id, sentinel.ErrNotFound)
	}
	return &t, nil
}
