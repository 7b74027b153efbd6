package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"badgerline/internal/domain"
)

//go:embed schemas/*.json
var schemasFS embed.FS

const (
	SchemaTask        = "task"
	SchemaSubmissions = "submissions"
)

var (
	loadOnce sync.Once
	schemas  map[string]*gojsonschema.Schema
	loadErr  error
)

func load() {
	schemas = map[string]*gojsonschema.Schema{}
	for _, name := range []string{SchemaTask, SchemaSubmissions} {
		data, err := schemasFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			loadErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			loadErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		schemas[name] = s
	}
}

// Validate checks doc against a named schema. A mismatch is reported as a
// *domain.ValidationError naming the first failing field.
func Validate(name string, doc any) error {
	loadOnce.Do(load)
	if loadErr != nil {
		return loadErr
	}
	schema, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	if result.Valid() {
		return nil
	}
	var reasons []string
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	field := name
	if errs := result.Errors(); len(errs) > 0 && errs[0].Field() != "(root)" {
		field = name + "." + errs[0].Field()
	}
	return domain.NewValidationError(field, strings.Join(reasons, "; "))
}

// Task validates a task definition against the schema and the domain rules.
func Task(t domain.Task) error {
	if err := Validate(SchemaTask, t); err != nil {
		return err
	}
	return t.Validate()
}

// Submissions validates a submission batch.
func Submissions(subs []domain.Submission) error {
	if subs == nil {
		subs = []domain.Submission{}
	}
	if err := Validate(SchemaSubmissions, subs); err != nil {
		return err
	}
	for _, s := range subs {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
