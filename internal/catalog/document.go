package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Document is the external, versionable form of a catalog.
type Document struct {
	Version   string         `yaml:"catalog_version" json:"catalog_version" validate:"required"`
	Effects   []Effect       `yaml:"effects,omitempty" json:"effects,omitempty" validate:"dive"`
	Conflicts []ConflictPair `yaml:"conflicts,omitempty" json:"conflicts,omitempty" validate:"dive"`
}

// Effect maps a service signature to the state it leaves its target in.
type Effect struct {
	Service string `yaml:"service" json:"service" validate:"required,service"`

	// State is the resulting entity state. For qualified services it is the
	// fallback used when the qualifying data field is absent.
	State string `yaml:"state,omitempty" json:"state,omitempty"`

	// Qualifier names the service data field whose value refines the
	// signature (service:value) and becomes the resulting state.
	Qualifier string `yaml:"qualifier,omitempty" json:"qualifier,omitempty"`
}

// ConflictPair is an unordered pair of opposing signatures.
type ConflictPair struct {
	A string `yaml:"a" json:"a" validate:"required,signature"`
	B string `yaml:"b" json:"b" validate:"required,signature,nefield=A"`
}

var (
	// validate is a singleton validator instance with the catalog tags registered.
	validate = mustValidator()

	servicePattern   = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)?$`)
	signaturePattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+(:[A-Za-z0-9_]+)?$`)

	// ErrInvalidCatalog wraps every validation failure of a catalog document.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// customValidations are the catalog-specific validator tags.
var customValidations = map[string]validator.Func{
	"service": func(fl validator.FieldLevel) bool {
		return servicePattern.MatchString(fl.Field().String())
	},
	"signature": func(fl validator.FieldLevel) bool {
		return signaturePattern.MatchString(fl.Field().String())
	},
}

func mustValidator() *validator.Validate {
	v, err := newValidator(customValidations)
	if err != nil {
		panic(err)
	}
	return v
}

func newValidator(custom map[string]validator.Func) (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("registering %q validation: %w", tag, err)
		}
	}
	return v, nil
}

// ParseDocument decodes and validates a catalog document. JSON documents
// are accepted as well since they are valid YAML.
func ParseDocument(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidCatalog)
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if err := ValidateDocument(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads and parses a catalog document from disk.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", filepath.Base(path), err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// ValidateDocument checks struct-level constraints of a decoded document.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidCatalog)
	}
	if err := validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCatalog, formatValidationError(err))
	}

	seen := make(map[string]struct{}, len(doc.Effects))
	for _, e := range doc.Effects {
		if _, dup := seen[e.Service]; dup {
			return fmt.Errorf("%w: duplicate effect for %s", ErrInvalidCatalog, e.Service)
		}
		seen[e.Service] = struct{}{}
	}
	return nil
}

// formatValidationError converts validator errors into one readable line.
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Document.")
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+": is required")
		case "service", "signature":
			parts = append(parts, fmt.Sprintf("%s: %q is not a valid service signature", field, fe.Value()))
		case "nefield":
			parts = append(parts, field+": a service cannot conflict with itself")
		default:
			parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Marshal renders a document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
